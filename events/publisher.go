// Package events publishes cart lifecycle events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	aws_pkg "cart-service/aws"
	"cart-service/models"
)

// Publisher delivers a checkout event. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishCheckout(ctx context.Context, event models.CheckoutEvent) error
}

type nopPublisher struct{}

// Nop returns a Publisher that drops every event.
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) PublishCheckout(context.Context, models.CheckoutEvent) error { return nil }

// SNSPublisher sends events to an SNS topic.
type SNSPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSPublisher {
	return &SNSPublisher{client: client, topicArn: topicArn}
}

func (p *SNSPublisher) PublishCheckout(ctx context.Context, event models.CheckoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}
	return p.client.Publish(ctx, p.topicArn, data, map[string]string{"event": event.Event})
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishCheckout(ctx context.Context, event models.CheckoutEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishCheckout(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns the cheapest Publisher covering ps: Nop for none, the publisher
// itself for one, Multi otherwise.
func Combine(ps ...Publisher) Publisher {
	switch len(ps) {
	case 0:
		return Nop()
	case 1:
		return ps[0]
	default:
		return Multi(ps)
	}
}
