package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClientID is a venue session identity lock.
type ClientID struct {
	ID       int
	Owner    string
	LockedAt time.Time
}

// InsertClientID locks one identity. A taken identity gives ErrDuplicateKey.
func (d *Database) InsertClientID(ctx context.Context, id int, owner string) error {
	_, err := d.conn(ctx).ExecContext(ctx, `
		INSERT INTO client_ids (client_id, owner, locked_at) VALUES (?, ?, ?)
	`, id, owner, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client id %d", ErrDuplicateKey, id)
		}
		return fmt.Errorf("insert client id: %w", err)
	}
	return nil
}

// DeleteClientID releases one identity; releasing a free identity is
// ErrNotFound.
func (d *Database) DeleteClientID(ctx context.Context, id int) error {
	res, err := d.conn(ctx).ExecContext(ctx, `DELETE FROM client_ids WHERE client_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete client id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: client id %d", ErrNotFound, id)
	}
	return nil
}

// DeleteClientIDsByOwner releases every identity held by owner.
func (d *Database) DeleteClientIDsByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := d.conn(ctx).ExecContext(ctx, `DELETE FROM client_ids WHERE owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("delete client ids: %w", err)
	}
	return res.RowsAffected()
}

// ListClientIDs returns locked identities at or above min, ascending.
func (d *Database) ListClientIDs(ctx context.Context, min int) ([]ClientID, error) {
	rows, err := d.conn(ctx).QueryContext(ctx, `
		SELECT client_id, owner, locked_at FROM client_ids WHERE client_id >= ? ORDER BY client_id
	`, min)
	if err != nil {
		return nil, fmt.Errorf("query client ids: %w", err)
	}
	defer rows.Close()

	var out []ClientID
	for rows.Next() {
		var c ClientID
		if err := rows.Scan(&c.ID, &c.Owner, &c.LockedAt); err != nil {
			return nil, fmt.Errorf("scan client id: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
