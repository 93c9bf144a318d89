package events

import (
	"context"
	"time"
)

// DisbursementCompleted is published after an allowance disbursement commits
type DisbursementCompleted struct {
	AccountID string    `json:"accountId"`
	WalletID  string    `json:"walletId"`
	EntryID   string    `json:"entryId"`
	Amount    string    `json:"amount"`
	Day       string    `json:"day"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers engine events to downstream consumers
type Publisher interface {
	PublishDisbursementCompleted(ctx context.Context, event *DisbursementCompleted) error
}

type noopPublisher struct{}

func (p *noopPublisher) PublishDisbursementCompleted(ctx context.Context, event *DisbursementCompleted) error {
	return nil
}

// NewNoopPublisher returns a publisher that drops all events.
// Used when no brokers are configured
func NewNoopPublisher() Publisher {
	return &noopPublisher{}
}
