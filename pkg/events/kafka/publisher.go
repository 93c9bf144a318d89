package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/events"
)

const disbursementCompletedTopic = "allowance_disbursement_completed"

type publisher struct {
	writer *kafka.Writer
}

func (p *publisher) PublishDisbursementCompleted(ctx context.Context, event *events.DisbursementCompleted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "Failed to marshal event")
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: data,
	})
}

// NewPublisher returns a kafka backed events publisher
func NewPublisher(brokers []string) events.Publisher {
	return &publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    disbursementCompletedTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}
