// Package clientid hands out venue session client IDs. IDs are locked in
// the database so that separate processes never share one.
package clientid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"go.uber.org/zap"

	"execution-core/internal/monitor"
	"execution-core/pkg/db"
)

var ErrNotAllocated = errors.New("client id not allocated")

const maxAllocateAttempts = 64

// Registry allocates the lowest free ID at or above an offset.
type Registry struct {
	db     *db.Database
	offset int
	owner  string
	log    *zap.Logger

	mu   sync.Mutex
	held map[int]struct{}
}

func NewRegistry(database *db.Database, offset int, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if offset < 1 {
		offset = 1
	}
	return &Registry{
		db:     database,
		offset: offset,
		owner:  OwnerID(),
		log:    log.With(zap.String("component", "clientid")),
		held:   make(map[int]struct{}),
	}
}

// OwnerID identifies this process: a hashed machine ID plus the PID.
func OwnerID() string {
	id, err := machineid.ProtectedID("execution-core")
	if err != nil {
		id, _ = os.Hostname()
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return fmt.Sprintf("%s:%d", id, os.Getpid())
}

// Owner returns the owner string stored with each lock.
func (r *Registry) Owner() string { return r.owner }

// Allocate locks requested if it is free, and otherwise the lowest free ID
// at or above the offset. requested <= 0 means no preference.
func (r *Registry) Allocate(ctx context.Context, requested int) (int, error) {
	if requested > 0 {
		err := r.db.InsertClientID(ctx, requested, r.owner)
		if err == nil {
			r.track(requested)
			return requested, nil
		}
		if !errors.Is(err, db.ErrDuplicateKey) {
			return 0, err
		}
		r.log.Warn("requested client id taken, allocating another", zap.Int("requested", requested))
	}

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		taken, err := r.db.ListClientIDs(ctx, r.offset)
		if err != nil {
			return 0, err
		}
		id := lowestFree(r.offset, taken)
		err = r.db.InsertClientID(ctx, id, r.owner)
		if err == nil {
			r.track(id)
			r.log.Info("client id allocated", zap.Int("client_id", id))
			return id, nil
		}
		if !errors.Is(err, db.ErrDuplicateKey) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("no client id after %d attempts", maxAllocateAttempts)
}

func lowestFree(offset int, taken []db.ClientID) int {
	next := offset
	for _, c := range taken {
		if c.ID > next {
			break
		}
		if c.ID == next {
			next++
		}
	}
	return next
}

// Release unlocks id.
func (r *Registry) Release(ctx context.Context, id int) error {
	if err := r.db.DeleteClientID(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrNotAllocated, id)
		}
		return err
	}
	r.mu.Lock()
	delete(r.held, id)
	n := len(r.held)
	r.mu.Unlock()
	monitor.SetClientIDsHeld(n)
	r.log.Info("client id released", zap.Int("client_id", id))
	return nil
}

// ReleaseAll unlocks every ID held by this process, including ones left
// behind by an earlier run with the same owner.
func (r *Registry) ReleaseAll(ctx context.Context) (int64, error) {
	n, err := r.db.DeleteClientIDsByOwner(ctx, r.owner)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.held = make(map[int]struct{})
	r.mu.Unlock()
	monitor.SetClientIDsHeld(0)
	return n, nil
}

// Clear drops every lock regardless of owner. Only for operator recovery
// after a crash.
func (r *Registry) Clear(ctx context.Context) error {
	locked, err := r.db.ListClientIDs(ctx, 0)
	if err != nil {
		return err
	}
	for _, c := range locked {
		if err := r.db.DeleteClientID(ctx, c.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
	}
	r.mu.Lock()
	r.held = make(map[int]struct{})
	r.mu.Unlock()
	monitor.SetClientIDsHeld(0)
	return nil
}

// Held returns the IDs this registry has allocated, ascending.
func (r *Registry) Held() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.held))
	for id := range r.held {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Locked lists every lock in the database, whoever holds it.
func (r *Registry) Locked(ctx context.Context) ([]db.ClientID, error) {
	return r.db.ListClientIDs(ctx, 0)
}

func (r *Registry) track(id int) {
	r.mu.Lock()
	r.held[id] = struct{}{}
	n := len(r.held)
	r.mu.Unlock()
	monitor.SetClientIDsHeld(n)
}
