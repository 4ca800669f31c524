package venue

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractSpec is what we know about a contract before asking the venue.
type ContractSpec struct {
	Symbol       string `json:"symbol"`
	Exchange     string `json:"exchange"`
	Currency     string `json:"currency"`
	Multiplier   string `json:"multiplier,omitempty"`
	TradingClass string `json:"trading_class,omitempty"`
	// ContractMonth is YYYYMM.
	ContractMonth string `json:"contract_month"`
	// ContractDay is set when the expiry day is known, DD.
	ContractDay string `json:"contract_day,omitempty"`
}

// Contract is a concrete dealable venue contract.
type Contract struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	LocalSymbol   string `json:"local_symbol,omitempty"`
	Exchange      string `json:"exchange"`
	Currency      string `json:"currency"`
	Multiplier    string `json:"multiplier,omitempty"`
	TradingClass  string `json:"trading_class,omitempty"`
	LastTradeDate string `json:"last_trade_date"` // YYYYMMDD
}

// ComboLeg is one sub-contract of a combo with its signed ratio.
type ComboLeg struct {
	ContractID string `json:"contract_id"`
	Ratio      int64  `json:"ratio"`
}

// OrderType is the venue order style.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

// OrderRequest is one order for a single contract or a combo. Quantity is
// signed: positive buys, negative sells. For a combo it counts combo units
// and Legs carry the ratios.
type OrderRequest struct {
	Contract   Contract   `json:"contract"`
	Legs       []ComboLeg `json:"legs,omitempty"`
	Quantity   int64      `json:"quantity"`
	Type       OrderType  `json:"type"`
	LimitPrice *float64   `json:"limit_price,omitempty"`
	Account    string     `json:"account,omitempty"`
	OrderRef   string     `json:"order_ref,omitempty"`
}

// IsCombo reports a multi-leg request.
func (r OrderRequest) IsCombo() bool { return len(r.Legs) > 1 }

// OrderHandle correlates venue identifiers with an internal order.
type OrderHandle struct {
	PermID   string `json:"perm_id"`
	TempID   string `json:"temp_id"`
	ClientID int    `json:"client_id"`
	Status   string `json:"status,omitempty"`
}

// Execution is one venue fill report.
type Execution struct {
	ExecID             string          `json:"exec_id"`
	PermID             string          `json:"perm_id"`
	ContractID         string          `json:"contract_id"`
	Quantity           int64           `json:"quantity"` // signed
	Price              float64         `json:"price"`
	Time               time.Time       `json:"time"`
	Commission         decimal.Decimal `json:"commission"`
	CommissionCurrency string          `json:"commission_currency,omitempty"`
	OrderRef           string          `json:"order_ref,omitempty"`
}

// OpenOrder is a working order as the venue reports it.
type OpenOrder struct {
	PermID     string  `json:"perm_id"`
	TempID     string  `json:"temp_id"`
	ClientID   int     `json:"client_id"`
	ContractID string  `json:"contract_id"`
	Account    string  `json:"account"`
	Quantity   int64   `json:"quantity"`
	Filled     int64   `json:"filled"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	Status     string  `json:"status"`
	OrderRef   string  `json:"order_ref,omitempty"`
}

// BarRequest asks for historical bars.
type BarRequest struct {
	Contract Contract `json:"contract"`
	BarSize  string   `json:"bar_size"` // e.g. "1 day", "1 hour"
	Duration string   `json:"duration"` // e.g. "1 Y"
	Field    string   `json:"field"`    // TRADES, MIDPOINT, BID, ASK
}

// Bar is one OHLCV bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Position is a venue-reported holding.
type Position struct {
	Account       string  `json:"account"`
	ContractID    string  `json:"contract_id"`
	Symbol        string  `json:"symbol"`
	LastTradeDate string  `json:"last_trade_date"`
	Quantity      int64   `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
}

// AccountValue is one tagged account summary figure.
type AccountValue struct {
	Account  string          `json:"account"`
	Tag      string          `json:"tag"`
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}
