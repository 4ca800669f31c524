// Package venue is the boundary to an external trading venue: the
// capability set the broker gateway consumes, its wire types, typed
// failures and request pacing.
package venue

import "context"

// Venue abstracts a trading venue session.
type Venue interface {
	// ResolveContract returns every concrete contract matching spec.
	ResolveContract(ctx context.Context, spec ContractSpec) ([]Contract, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	CancelOrder(ctx context.Context, h OrderHandle) error
	OpenOrders(ctx context.Context, account string) ([]OpenOrder, error)
	// Executions lists the executions reported so far for one order.
	Executions(ctx context.Context, h OrderHandle) ([]Execution, error)
	HistoricalBars(ctx context.Context, req BarRequest) ([]Bar, error)
	Positions(ctx context.Context, account string) ([]Position, error)
	AccountSummary(ctx context.Context, account string) ([]AccountValue, error)
}

// Pinger is implemented by venues that can report session health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Session is a venue connection bound to one account and client ID.
type Session struct {
	Venue    Venue
	Account  string
	ClientID int
}
