package services

import (
	"context"
	"fmt"

	"office-hours-queue/utils"

	pubnub "github.com/pubnub/go/v7"
)

// Publisher delivers a message to a realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// PubNubPublisher publishes through PubNub behind a circuit breaker so an
// outage fails fast instead of stacking up goroutines.
type PubNubPublisher struct {
	PubNub  *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNub(publishKey, subscribeKey, secretKey, userID string) *pubnub.PubNub {
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnConfig.PublishKey = publishKey
	pnConfig.SubscribeKey = subscribeKey
	pnConfig.SecretKey = secretKey
	return pubnub.NewPubNub(pnConfig)
}

func NewPubNubPublisher(pn *pubnub.PubNub, breaker *utils.CircuitBreaker) *PubNubPublisher {
	return &PubNubPublisher{PubNub: pn, breaker: breaker}
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.breaker.Execute(func() error {
		_, status, err := p.PubNub.Publish().
			Channel(channel).
			Message(message).
			Execute()
		if err != nil {
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
		if status.StatusCode >= 400 {
			return fmt.Errorf("publish to %s: status %d", channel, status.StatusCode)
		}
		return nil
	})
}
