package mailer

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrUnavailable is returned without contacting the relay while the breaker is open.
var ErrUnavailable = errors.New("mailer: relay unavailable")

type BreakerConfig struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
}

type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSender(next Sender, cfg BreakerConfig, log *zap.Logger) *BreakerSender {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "smtp"
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// a bad message is the caller's fault, not the relay's
			return err == nil || errors.Is(err, ErrNoRecipient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("mail circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerSender{next: next, cb: cb}
}

func (s *BreakerSender) Send(ctx context.Context, msg Message) error {
	_, err := s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

func (s *BreakerSender) State() gobreaker.State {
	return s.cb.State()
}
