// Package match holds the pure trigger-rule predicate and selection logic.
// It knows nothing about storage or delivery; callers load candidate rules
// and hand them in together with the inbound event
package match

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Surface is where the inbound text arrived
type Surface string

const (
	// SurfaceComment is a public comment on a post
	SurfaceComment Surface = "comment"

	// SurfaceDM is a direct message
	SurfaceDM Surface = "dm"
)

// Mode is how a keyword is compared against the text
type Mode string

const (
	// ModeExact requires the whole text to equal the keyword
	ModeExact Mode = "exact"

	// ModeContains requires the keyword anywhere in the text
	ModeContains Mode = "contains"

	// ModeStartsWith requires the text to begin with the keyword
	ModeStartsWith Mode = "starts_with"
)

// Rule is the subset of a trigger rule the matcher needs
type Rule struct {
	ID            string
	Keyword       string
	Mode          Mode
	Surface       Surface
	PostID        string // empty means any post
	CaseSensitive bool
	Priority      int
	CreatedAt     time.Time
}

// Event is an inbound comment or DM to evaluate
type Event struct {
	Surface  Surface
	SenderID string
	Text     string
	PostID   string
}

// Normalize applies NFKC so fullwidth and composed forms compare equal
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// fold normalizes and optionally lowercases for case-insensitive rules
func fold(s string, caseSensitive bool) string {
	s = Normalize(s)
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return strings.TrimSpace(s)
}

// Matches reports whether ev satisfies r's surface, post scope, and keyword
func Matches(r Rule, ev Event) bool {
	if r.Surface != ev.Surface {
		return false
	}
	if r.PostID != "" && r.PostID != ev.PostID {
		return false
	}
	text := fold(ev.Text, r.CaseSensitive)
	kw := fold(r.Keyword, r.CaseSensitive)
	if kw == "" {
		return false
	}
	switch r.Mode {
	case ModeExact:
		return text == kw
	case ModeContains:
		return strings.Contains(text, kw)
	case ModeStartsWith:
		return strings.HasPrefix(text, kw)
	default:
		return false
	}
}

// Select returns the single winning rule for ev, or ok=false when nothing
// matches. Ties resolve by priority descending, then most recently created
func Select(rules []Rule, ev Event) (Rule, bool) {
	var hits []Rule
	for _, r := range rules {
		if Matches(r, ev) {
			hits = append(hits, r)
		}
	}
	if len(hits) == 0 {
		return Rule{}, false
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority > hits[j].Priority
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	return hits[0], true
}
