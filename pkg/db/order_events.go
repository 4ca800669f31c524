package db

import (
	"context"
	"fmt"
	"time"
)

// OrderEventRow is one journaled lifecycle event.
type OrderEventRow struct {
	ID         int64
	Type       string
	Tier       string
	OrderID    int64
	ParentID   int64
	Key        string
	Status     string
	Message    string
	Body       []byte
	OccurredAt time.Time
}

// OrderEventFilter selects journaled events. Zero fields match all.
type OrderEventFilter struct {
	Tier    string
	OrderID int64
	Type    string
	Since   time.Time
	Limit   int
}

const orderEventColumns = `id, event_type, tier, order_id, parent_id, order_key, status, message, body, occurred_at`

// InsertOrderEvents appends rows in one statement batch. It joins any
// transaction carried by ctx.
func (d *Database) InsertOrderEvents(ctx context.Context, rows []OrderEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	q := d.conn(ctx)
	for _, r := range rows {
		if r.OccurredAt.IsZero() {
			r.OccurredAt = time.Now().UTC()
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_events (event_type, tier, order_id, parent_id, order_key, status, message, body, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.Type, r.Tier, r.OrderID, r.ParentID, r.Key, r.Status, r.Message, string(r.Body), r.OccurredAt.UTC())
		if err != nil {
			return fmt.Errorf("insert order event: %w", err)
		}
	}
	return nil
}

// ListOrderEvents returns journaled events, newest first.
func (d *Database) ListOrderEvents(ctx context.Context, f OrderEventFilter) ([]OrderEventRow, error) {
	query := `SELECT ` + orderEventColumns + ` FROM order_events WHERE 1 = 1`
	var args []any
	if f.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, f.Tier)
	}
	if f.OrderID != 0 {
		query += ` AND order_id = ?`
		args = append(args, f.OrderID)
	}
	if f.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var out []OrderEventRow
	for rows.Next() {
		var (
			r    OrderEventRow
			body string
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Tier, &r.OrderID, &r.ParentID, &r.Key, &r.Status, &r.Message, &body, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		r.Body = []byte(body)
		out = append(out, r)
	}
	return out, rows.Err()
}
