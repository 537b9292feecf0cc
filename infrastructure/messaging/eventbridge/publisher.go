// Package eventbridge forwards graph notifications to an EventBridge bus,
// where the external evaluator picks up card changes.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"ailego/domain/events"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// maxBatchSize is the PutEvents entry limit
const maxBatchSize = 10

// DefaultTypes are the event types that leave the process. Pure view
// notifications such as topology redraws stay local.
var DefaultTypes = []string{
	events.TypeCardAdded,
	events.TypeCardChanged,
	events.TypeCardRemoved,
	events.TypeCommentAdded,
	events.TypeLinkAdded,
	events.TypeProjectCleared,
	events.TypeSyncFailed,
}

// Client is the subset of the EventBridge API the publisher calls
type Client interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher implements ports.EventPublisher on EventBridge
type Publisher struct {
	client       Client
	eventBusName string
	source       string
	types        map[string]bool
	logger       *zap.Logger
}

// NewPublisher creates a publisher for the given bus. A nil types list
// selects DefaultTypes.
func NewPublisher(client Client, eventBusName, source string, types []string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if types == nil {
		types = DefaultTypes
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		types:        allowed,
		logger:       logger,
	}
}

// Publish sends a single event
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends the selected events in chunks of maxBatchSize
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	selected := make([]events.DomainEvent, 0, len(domainEvents))
	for _, e := range domainEvents {
		if p.types[e.GetEventType()] {
			selected = append(selected, e)
		}
	}

	for i := 0; i < len(selected); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(selected) {
			end = len(selected)
		}
		if err := p.publishBatch(ctx, selected[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(domainEvents))
	sent := make([]events.DomainEvent, 0, len(domainEvents))

	for _, event := range domainEvents {
		detail, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("Failed to marshal event",
				zap.Error(err),
				zap.String("eventType", event.GetEventType()),
			)
			continue
		}

		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(event.GetEventType()),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.GetTimestamp()),
			Resources:    []string{fmt.Sprintf("ailego:project/%s", event.GetAggregateID())},
		})
		sent = append(sent, event)
	}

	if len(entries) == 0 {
		return nil
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil && i < len(sent) {
				p.logger.Error("Failed to publish event",
					zap.String("eventType", sent[i].GetEventType()),
					zap.String("errorCode", aws.ToString(entry.ErrorCode)),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
