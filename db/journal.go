package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Journal actions.
const (
	ActionJoin = "join"
	ActionPart = "part"
)

// Event is one recorded JOIN or PART.
type Event struct {
	ID        int64     `json:"id"`
	Corr      string    `json:"corr,omitempty"`
	Channel   string    `json:"channel"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal appends membership changes to membership_events.
type Journal struct {
	DB *sql.DB
}

// Record stores one row per channel in a single transaction.
func (j *Journal) Record(ctx context.Context, corr, action string, channels []string) error {
	if len(channels) == 0 {
		return nil
	}
	if action != ActionJoin && action != ActionPart {
		return fmt.Errorf("journal: unknown action %q", action)
	}
	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ch := range channels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO membership_events (corr, channel, action) VALUES ($1, $2, $3)`,
			corr, ch, action); err != nil {
			return fmt.Errorf("journal insert %s %s: %w", action, ch, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}
	return nil
}

// Recent returns at most limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.DB.QueryContext(ctx,
		`SELECT id, corr, channel, action, created_at FROM membership_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Corr, &ev.Channel, &ev.Action, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return events, nil
}
