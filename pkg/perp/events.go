package perp

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventType tags the observable outputs of the ledger.
type EventType string

const (
	EvPositionOpened          EventType = "position_opened"
	EvPositionClosed          EventType = "position_closed"
	EvPositionPartiallyClosed EventType = "position_partially_closed"
	EvPositionLiquidated      EventType = "position_liquidated"
	EvOrderPlaced             EventType = "order_placed"
	EvOrderExecuted           EventType = "order_executed"
	EvOrderCancelled          EventType = "order_cancelled"
	EvPositionIncreased       EventType = "position_increased"
	EvMarginAdded             EventType = "margin_added"
	EvMarginRemoved           EventType = "margin_removed"
	EvFeeDistributed          EventType = "fee_distributed"
	EvAccountingInconsistency EventType = "accounting_inconsistency"
	EvReferralLocked          EventType = "referral_locked"
)

// Event is a notification emitted after a state transition commits.
// Fields not relevant to the event type are zero.
type Event struct {
	Type     EventType       `json:"type"`
	Time     time.Time       `json:"time"`
	Asset    AssetID         `json:"asset"`
	Position uint64          `json:"position,omitempty"`
	Order    uint64          `json:"order,omitempty"`
	Trader   common.Address  `json:"trader,omitempty"`
	Caller   common.Address  `json:"caller,omitempty"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
	Fee      *FeeSplit       `json:"fee,omitempty"`

	// Recipients breaks down fee payouts by destination.
	Recipients map[string]string `json:"recipients,omitempty"`
}

// Notifier receives ledger events. Implementations must not block for
// long; the ledger publishes synchronously after committing a transition.
type Notifier interface {
	Publish(Event)
}

// NopNotifier discards all events.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(Event) {}
