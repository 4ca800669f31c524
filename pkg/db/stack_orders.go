package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StackOrder is one order row of a named stack. Body holds the full order
// document; the other columns are the parts queried or guarded on.
type StackOrder struct {
	Stack     string
	OrderID   int64
	Key       string
	ParentID  int64
	Locked    bool
	Active    bool
	Version   int64
	Body      []byte
	UpdatedAt time.Time
}

// StackFilter narrows ListStackOrders. Zero values match everything.
type StackFilter struct {
	ActiveOnly   bool
	InactiveOnly bool
	ParentID     int64
}

const stackOrderColumns = `stack, order_id, order_key, parent_id, locked, active, version, body, updated_at`

// NextOrderID bumps and returns the persisted ID counter for a stack.
func (d *Database) NextOrderID(ctx context.Context, stack string) (int64, error) {
	var id int64
	err := d.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO order_id_counters (stack, last_id) VALUES (?, 1)
		ON CONFLICT(stack) DO UPDATE SET last_id = last_id + 1
		RETURNING last_id
	`, stack).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next order id for %s: %w", stack, err)
	}
	return id, nil
}

// InsertStackOrder adds a row. An active row with the same key, or a reused
// order ID, gives ErrDuplicateKey.
func (d *Database) InsertStackOrder(ctx context.Context, o StackOrder) error {
	_, err := d.conn(ctx).ExecContext(ctx, `
		INSERT INTO stack_orders (stack, order_id, order_key, parent_id, locked, active, version, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, o.Stack, o.OrderID, o.Key, o.ParentID, o.Locked, o.Active, string(o.Body), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", ErrDuplicateKey, o.Stack, o.Key)
		}
		return fmt.Errorf("insert stack order: %w", err)
	}
	return nil
}

// GetStackOrder finds one row by ID.
func (d *Database) GetStackOrder(ctx context.Context, stack string, orderID int64) (StackOrder, error) {
	row := d.conn(ctx).QueryRowContext(ctx, `
		SELECT `+stackOrderColumns+` FROM stack_orders WHERE stack = ? AND order_id = ?
	`, stack, orderID)
	return scanStackOrder(row)
}

// GetActiveStackOrderByKey finds the active row for a key.
func (d *Database) GetActiveStackOrderByKey(ctx context.Context, stack, key string) (StackOrder, error) {
	row := d.conn(ctx).QueryRowContext(ctx, `
		SELECT `+stackOrderColumns+` FROM stack_orders WHERE stack = ? AND order_key = ? AND active = 1
	`, stack, key)
	return scanStackOrder(row)
}

// ListStackOrders returns rows ordered by ID.
func (d *Database) ListStackOrders(ctx context.Context, stack string, f StackFilter) ([]StackOrder, error) {
	query := `SELECT ` + stackOrderColumns + ` FROM stack_orders WHERE stack = ?`
	args := []any{stack}
	if f.ActiveOnly {
		query += ` AND active = 1`
	}
	if f.InactiveOnly {
		query += ` AND active = 0`
	}
	if f.ParentID != 0 {
		query += ` AND parent_id = ?`
		args = append(args, f.ParentID)
	}
	query += ` ORDER BY order_id`

	rows, err := d.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stack orders: %w", err)
	}
	defer rows.Close()

	var out []StackOrder
	for rows.Next() {
		o, err := scanStackOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateStackOrder writes o if the stored version still equals o.Version and
// bumps the version. A concurrent writer gives ErrVersionConflict.
func (d *Database) UpdateStackOrder(ctx context.Context, o StackOrder) (int64, error) {
	res, err := d.conn(ctx).ExecContext(ctx, `
		UPDATE stack_orders
		SET order_key = ?, parent_id = ?, locked = ?, active = ?, body = ?, version = version + 1, updated_at = ?
		WHERE stack = ? AND order_id = ? AND version = ?
	`, o.Key, o.ParentID, o.Locked, o.Active, string(o.Body), time.Now().UTC(), o.Stack, o.OrderID, o.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s %s", ErrDuplicateKey, o.Stack, o.Key)
		}
		return 0, fmt.Errorf("update stack order: %w", err)
	}
	if err := d.expectOneRow(ctx, res, o.Stack, o.OrderID); err != nil {
		return 0, err
	}
	return o.Version + 1, nil
}

// DeleteStackOrder removes one row at the given version.
func (d *Database) DeleteStackOrder(ctx context.Context, stack string, orderID, version int64) error {
	res, err := d.conn(ctx).ExecContext(ctx, `
		DELETE FROM stack_orders WHERE stack = ? AND order_id = ? AND version = ?
	`, stack, orderID, version)
	if err != nil {
		return fmt.Errorf("delete stack order: %w", err)
	}
	return d.expectOneRow(ctx, res, stack, orderID)
}

// DeleteStackOrders removes many rows and reports how many went.
func (d *Database) DeleteStackOrders(ctx context.Context, stack string, f StackFilter) (int64, error) {
	query := `DELETE FROM stack_orders WHERE stack = ?`
	args := []any{stack}
	if f.ActiveOnly {
		query += ` AND active = 1`
	}
	if f.InactiveOnly {
		query += ` AND active = 0`
	}
	if f.ParentID != 0 {
		query += ` AND parent_id = ?`
		args = append(args, f.ParentID)
	}
	res, err := d.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stack orders: %w", err)
	}
	return res.RowsAffected()
}

// expectOneRow turns a zero-row conditional write into ErrNotFound or
// ErrVersionConflict depending on whether the row still exists.
func (d *Database) expectOneRow(ctx context.Context, res sql.Result, stack string, orderID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = d.conn(ctx).QueryRowContext(ctx, `SELECT 1 FROM stack_orders WHERE stack = ? AND order_id = ?`, stack, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s order %d", ErrNotFound, stack, orderID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s order %d", ErrVersionConflict, stack, orderID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStackOrder(r rowScanner) (StackOrder, error) {
	var (
		o    StackOrder
		body string
	)
	err := r.Scan(&o.Stack, &o.OrderID, &o.Key, &o.ParentID, &o.Locked, &o.Active, &o.Version, &body, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StackOrder{}, ErrNotFound
	}
	if err != nil {
		return StackOrder{}, fmt.Errorf("scan stack order: %w", err)
	}
	o.Body = []byte(body)
	return o, nil
}
