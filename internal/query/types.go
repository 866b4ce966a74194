package query

import (
	"encoding/json"
	"time"
)

// VaultResponse describes one owner's vault and its live balances. Amounts
// are decimal strings in natural token units (wei).
type VaultResponse struct {
	Owner             string `json:"owner"`
	Vault             string `json:"vault"`
	UnderlyingBalance string `json:"underlying_balance"`
	GmxBalance        string `json:"gmx_balance"`
	EsGmxBalance      string `json:"es_gmx_balance"`
}

// AccountBalanceResponse is one ledger balance read.
type AccountBalanceResponse struct {
	Owner         string `json:"owner"`
	AccountNumber uint64 `json:"account_number"`
	MarketID      uint64 `json:"market_id"`
	Sign          bool   `json:"sign"`
	Value         string `json:"value"`
}

// PriceResponse is one oracle price read, in ledger precision
// (36 - token decimals).
type PriceResponse struct {
	MarketID uint64 `json:"market_id"`
	Token    string `json:"token"`
	Price    string `json:"price"`
}

// QuoteResponse is a trader conversion quote at current pool state.
type QuoteResponse struct {
	Direction    string `json:"direction"` // "wrap" or "unwrap"
	InputAmount  string `json:"input_amount"`
	OutputAmount string `json:"output_amount"`
}

// AllowListsResponse carries the factory's current market restrictions.
// Empty lists mean no restriction.
type AllowListsResponse struct {
	DebtMarketIDs       []uint64 `json:"debt_market_ids"`
	CollateralMarketIDs []uint64 `json:"collateral_market_ids"`
}

// EventResponse is one row from the persisted event journal.
type EventResponse struct {
	Sequence   int64           `json:"sequence"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}
