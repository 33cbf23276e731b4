// Package notify delivers best-effort push notifications. Delivery never
// reports failure to the operation that triggered it: errors are logged and
// summarised as an Outcome.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Outcome summarises one Send.
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeTokenInvalidated Outcome = "token_invalidated"
	OutcomeFailed           Outcome = "failed"
)

// ErrTokenInvalid is returned by a Pusher when the provider reports the
// device token as stale or unregistered.
var ErrTokenInvalid = errors.New("push token is no longer registered")

// Message is the notification content.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// TokenStore reads and clears the recipient's delivery token. PushToken
// returns "" for a user without a token. ClearPushToken must only clear the
// token if it still equals token.
type TokenStore interface {
	PushToken(ctx context.Context, userID string) (string, error)
	ClearPushToken(ctx context.Context, userID, token string) (bool, error)
}

// Pusher talks to the push provider.
type Pusher interface {
	Push(ctx context.Context, token string, msg Message) error
}

// Dispatcher sends one message to one user.
type Dispatcher struct {
	tokens  TokenStore
	pusher  Pusher
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher. A non-positive timeout disables the
// per-send deadline.
func NewDispatcher(tokens TokenStore, pusher Pusher, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{tokens: tokens, pusher: pusher, timeout: timeout, logger: logger}
}

// Send looks up the recipient's token and pushes msg to it. A stale token is
// cleared and not retried.
func (d *Dispatcher) Send(ctx context.Context, recipientID string, msg Message) Outcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	log := d.logger.With(zap.String("recipient", recipientID), zap.String("title", msg.Title))

	token, err := d.tokens.PushToken(ctx, recipientID)
	if err != nil {
		log.Warn("notification token lookup failed", zap.Error(err))
		return OutcomeFailed
	}
	if token == "" {
		log.Debug("notification skipped: no token registered")
		return OutcomeSkipped
	}

	err = d.pusher.Push(ctx, token, msg)
	switch {
	case err == nil:
		log.Debug("notification delivered")
		return OutcomeDelivered
	case errors.Is(err, ErrTokenInvalid):
		cleared, cerr := d.tokens.ClearPushToken(ctx, recipientID, token)
		if cerr != nil {
			log.Warn("clear stale push token failed", zap.Error(cerr))
		} else {
			log.Info("stale push token removed", zap.Bool("cleared", cleared))
		}
		return OutcomeTokenInvalidated
	default:
		log.Warn("notification delivery failed", zap.Error(err))
		return OutcomeFailed
	}
}
