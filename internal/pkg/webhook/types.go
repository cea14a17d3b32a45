package webhook

import (
	"encoding/json"
	"time"
)

// Event is the provider's notification envelope. Delivery is at-least-once
// and unordered; EventID is the dedup key, Timestamp drives the stale guard.
type Event struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// PayoutChangedData is the payload of a payout.changed event.
type PayoutChangedData struct {
	OrderID      string `json:"orderId"`
	Status       string `json:"status"`
	PayoutID     string `json:"payoutId"`
	ErrorMessage string `json:"errorMessage"`
}

// SellerChangedData is the payload of a seller.changed event.
type SellerChangedData struct {
	RefSellerID string `json:"refSellerId"`
	SellerID    string `json:"sellerId"`
	Status      string `json:"status"`
}

// OutcomeCode classifies what ingestion did with an event.
type OutcomeCode string

const (
	OutcomeApplied   OutcomeCode = "applied"
	OutcomeDuplicate OutcomeCode = "duplicate"
	OutcomeRejected  OutcomeCode = "rejected"
)

// Outcome is the pipeline's verdict for one delivery. Reason is set for
// rejections only and is safe to return to the provider.
type Outcome struct {
	Code   OutcomeCode
	Reason string
}

func applied() Outcome   { return Outcome{Code: OutcomeApplied} }
func duplicate() Outcome { return Outcome{Code: OutcomeDuplicate} }
func rejected(reason string) Outcome {
	return Outcome{Code: OutcomeRejected, Reason: reason}
}
