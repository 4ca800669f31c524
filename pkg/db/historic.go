package db

import (
	"context"
	"fmt"
	"time"
)

// HistoricOrder is the immutable record of a completed order.
type HistoricOrder struct {
	Tier        string
	OrderID     int64
	Key         string
	Strategy    string
	Instrument  string
	Contract    string
	ParentID    int64
	Body        []byte
	CompletedAt time.Time
}

// HistoricFilter selects historic orders by scope. Empty fields match all.
type HistoricFilter struct {
	Strategy   string
	Instrument string
	Contract   string
	Since      time.Time
	Limit      int
}

const historicColumns = `tier, order_id, order_key, strategy, instrument, contract, parent_id, body, completed_at`

// InsertHistoricOrder archives an order. Order IDs are never reused, so a
// second insert for the same ID is ErrDuplicateKey.
func (d *Database) InsertHistoricOrder(ctx context.Context, h HistoricOrder) error {
	if h.CompletedAt.IsZero() {
		h.CompletedAt = time.Now().UTC()
	}
	_, err := d.conn(ctx).ExecContext(ctx, `
		INSERT INTO historic_orders (`+historicColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.Tier, h.OrderID, h.Key, h.Strategy, h.Instrument, h.Contract, h.ParentID, string(h.Body), h.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: historic %s order %d", ErrDuplicateKey, h.Tier, h.OrderID)
		}
		return fmt.Errorf("insert historic order: %w", err)
	}
	return nil
}

// GetHistoricOrder finds one archived order.
func (d *Database) GetHistoricOrder(ctx context.Context, tier string, orderID int64) (HistoricOrder, error) {
	row := d.conn(ctx).QueryRowContext(ctx, `
		SELECT `+historicColumns+` FROM historic_orders WHERE tier = ? AND order_id = ?
	`, tier, orderID)
	h, err := scanHistoric(row)
	if err != nil {
		return HistoricOrder{}, err
	}
	return h, nil
}

// ListHistoricOrders returns archived orders of a tier by scope, oldest first.
func (d *Database) ListHistoricOrders(ctx context.Context, tier string, f HistoricFilter) ([]HistoricOrder, error) {
	query := `SELECT ` + historicColumns + ` FROM historic_orders WHERE tier = ?`
	args := []any{tier}
	if f.Strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, f.Strategy)
	}
	if f.Instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, f.Instrument)
	}
	if f.Contract != "" {
		query += ` AND contract = ?`
		args = append(args, f.Contract)
	}
	if !f.Since.IsZero() {
		query += ` AND completed_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY order_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query historic orders: %w", err)
	}
	defer rows.Close()

	var out []HistoricOrder
	for rows.Next() {
		h, err := scanHistoric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHistoric(r rowScanner) (HistoricOrder, error) {
	var (
		h    HistoricOrder
		body string
	)
	if err := r.Scan(&h.Tier, &h.OrderID, &h.Key, &h.Strategy, &h.Instrument, &h.Contract, &h.ParentID, &body, &h.CompletedAt); err != nil {
		if isNoRows(err) {
			return HistoricOrder{}, ErrNotFound
		}
		return HistoricOrder{}, fmt.Errorf("scan historic order: %w", err)
	}
	h.Body = []byte(body)
	return h, nil
}
