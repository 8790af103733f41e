// Package repo provides the trigger-rule persistence surface
package repo

import (
	"context"
	"time"

	"replyloop/internal/core/match"
	"replyloop/internal/modkit/repokit"
	"replyloop/internal/services/rules/domain"
)

// DMLog is one journal row for an attempted or suppressed send
type DMLog struct {
	CreatorID   string
	RuleID      string
	RecipientID string
	Outcome     domain.Outcome
	MessageID   string
	Detail      string
}

// Repo is the rule store used by the service layer
type Repo interface {
	ActiveRules(ctx context.Context, creatorID string, surface match.Surface) ([]domain.TriggerRule, error)

	// ClaimDMOnce reserves the one dm_sent slot for (rule, recipient).
	// Returns false when the slot is already held, so concurrent matches
	// for the same sender race on an insert instead of a read
	ClaimDMOnce(ctx context.Context, creatorID, ruleID, recipientID string) (bool, error)

	// ReleaseDMOnce frees an unfinalized claim after a send that never
	// happened, leaving a real delivery record untouched
	ReleaseDMOnce(ctx context.Context, ruleID, recipientID string) error

	// TryIncrementDaily consumes one slot of the rule's daily cap for day.
	// Returns false without side effects when the cap is already reached
	TryIncrementDaily(ctx context.Context, ruleID string, day time.Time) (bool, error)

	// RotateVariant advances the rule's reply variant cursor and returns the
	// index to use, never repeating the immediately previous one
	RotateVariant(ctx context.Context, ruleID string, variants int) (int, error)

	InsertDMLog(ctx context.Context, l DMLog) error

	BumpTriggered(ctx context.Context, ruleID string) error
	BumpDMSent(ctx context.Context, ruleID string) error
	BumpGateBlocked(ctx context.Context, ruleID string) error
	BumpGateConverted(ctx context.Context, ruleID string) error
}

type (
	// PG is a Postgres implementation of the rules repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a binder for the Postgres implementation
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind attaches a Queryer to the Postgres implementation
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

func (r *queries) ActiveRules(ctx context.Context, creatorID string, surface match.Surface) ([]domain.TriggerRule, error) {
	const sql = `
		SELECT id, creator_id, keyword, match_mode, surface, post_id, case_sensitive,
		       priority, reply_templates, last_variant, dm_template,
		       gate_enabled, gate_non_follower_reply, gate_post_follow_dm, gate_check_window_secs,
		       dm_once_per_user, daily_limit, active, created_at,
		       total_triggered, total_dms_sent, total_gate_blocked, total_gate_converted
		FROM trigger_rules
		WHERE creator_id = $1 AND surface = $2 AND active
		ORDER BY priority DESC, created_at DESC
	`
	rows, err := r.q.Query(ctx, sql, creatorID, string(surface))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TriggerRule
	for rows.Next() {
		var (
			t          domain.TriggerRule
			mode       string
			surf       string
			windowSecs int64
		)
		if err := rows.Scan(
			&t.ID, &t.CreatorID, &t.Keyword, &mode, &surf, &t.PostID, &t.CaseSensitive,
			&t.Priority, &t.ReplyTemplates, &t.LastVariant, &t.DMTemplate,
			&t.FollowGate.Enabled, &t.FollowGate.NonFollowerReply, &t.FollowGate.PostFollowDM, &windowSecs,
			&t.DMOncePerUser, &t.DailyLimit, &t.Active, &t.CreatedAt,
			&t.TotalTriggered, &t.TotalDMsSent, &t.TotalGateBlocked, &t.TotalGateConverted,
		); err != nil {
			return nil, err
		}
		t.MatchMode = match.Mode(mode)
		t.Surface = match.Surface(surf)
		t.FollowGate.CheckWindow = time.Duration(windowSecs) * time.Second
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *queries) ClaimDMOnce(ctx context.Context, creatorID, ruleID, recipientID string) (bool, error) {
	// the partial unique index on (rule_id, recipient_id) WHERE
	// outcome='dm_sent' arbitrates; the loser of a concurrent race
	// inserts nothing
	const sql = `
		INSERT INTO dm_logs (creator_id, rule_id, recipient_id, outcome, message_id, detail, created_at)
		VALUES ($1, $2, $3, 'dm_sent', '', '', NOW())
		ON CONFLICT (rule_id, recipient_id) WHERE outcome = 'dm_sent'
		DO NOTHING
	`
	tag, err := r.q.Exec(ctx, sql, creatorID, ruleID, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) ReleaseDMOnce(ctx context.Context, ruleID, recipientID string) error {
	// only the empty-message reservation is releasable; a finalized
	// delivery keeps its message id
	const sql = `
		DELETE FROM dm_logs
		WHERE rule_id = $1 AND recipient_id = $2 AND outcome = 'dm_sent' AND message_id = ''
	`
	_, err := r.q.Exec(ctx, sql, ruleID, recipientID)
	return err
}

func (r *queries) TryIncrementDaily(ctx context.Context, ruleID string, day time.Time) (bool, error) {
	// conditional increment in one statement; concurrent matches past the
	// cap update zero rows instead of racing a read
	const sql = `
		UPDATE trigger_rules
		SET daily_count = CASE WHEN daily_count_date = $2::date THEN daily_count + 1 ELSE 1 END,
		    daily_count_date = $2::date
		WHERE id = $1
		  AND (daily_limit = 0
		       OR daily_count_date IS DISTINCT FROM $2::date
		       OR daily_count < daily_limit)
	`
	tag, err := r.q.Exec(ctx, sql, ruleID, day.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) RotateVariant(ctx context.Context, ruleID string, variants int) (int, error) {
	if variants <= 1 {
		return 0, nil
	}
	const sql = `
		UPDATE trigger_rules
		SET last_variant = (last_variant + 1) % $2
		WHERE id = $1
		RETURNING last_variant
	`
	var idx int
	if err := r.q.QueryRow(ctx, sql, ruleID, variants).Scan(&idx); err != nil {
		return 0, err
	}
	return idx, nil
}

func (r *queries) InsertDMLog(ctx context.Context, l DMLog) error {
	// a dm_sent insert lands on the unique slot and finalizes any
	// outstanding reservation for the pair
	const sql = `
		INSERT INTO dm_logs (creator_id, rule_id, recipient_id, outcome, message_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (rule_id, recipient_id) WHERE outcome = 'dm_sent'
		DO UPDATE SET message_id = EXCLUDED.message_id, detail = EXCLUDED.detail, created_at = EXCLUDED.created_at
	`
	_, err := r.q.Exec(ctx, sql, l.CreatorID, l.RuleID, l.RecipientID, string(l.Outcome), l.MessageID, l.Detail)
	return err
}

func (r *queries) bump(ctx context.Context, ruleID, col string) error {
	sql := `UPDATE trigger_rules SET ` + col + ` = ` + col + ` + 1 WHERE id = $1`
	_, err := r.q.Exec(ctx, sql, ruleID)
	return err
}

func (r *queries) BumpTriggered(ctx context.Context, ruleID string) error {
	return r.bump(ctx, ruleID, "total_triggered")
}

func (r *queries) BumpDMSent(ctx context.Context, ruleID string) error {
	return r.bump(ctx, ruleID, "total_dms_sent")
}

func (r *queries) BumpGateBlocked(ctx context.Context, ruleID string) error {
	return r.bump(ctx, ruleID, "total_gate_blocked")
}

func (r *queries) BumpGateConverted(ctx context.Context, ruleID string) error {
	return r.bump(ctx, ruleID, "total_gate_converted")
}
