// Package render fills {{placeholder}} slots in message templates
package render

import (
	"regexp"
	"strings"
)

var slotRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render replaces every {{name}} slot with vars[name].
// Unknown slots are left untouched so a typo in a template is visible
// to the creator instead of silently vanishing
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return slotRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := slotRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Slots lists the distinct placeholder names used by tmpl, in first-seen order
func Slots(tmpl string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range slotRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
