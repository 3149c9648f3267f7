package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// Publisher sends a payload to a message topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}

// PublishSink forwards lifecycle events to a topic, one message per event.
type PublishSink struct {
	publisher Publisher
	topic     string
	kinds     map[progress.Kind]bool
}

// NewPublishSink publishes events of the listed kinds, or all kinds when none are given.
func NewPublishSink(publisher Publisher, topic string, kinds ...progress.Kind) *PublishSink {
	var filter map[progress.Kind]bool
	if len(kinds) > 0 {
		filter = make(map[progress.Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}
	return &PublishSink{publisher: publisher, topic: topic, kinds: filter}
}

// Consume publishes each matching event with kind and target attributes.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if s.kinds != nil && !s.kinds[evt.Kind] {
			continue
		}
		attrs := map[string]string{
			"kind":      string(evt.Kind),
			"target_id": evt.TargetID,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, evt, attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
