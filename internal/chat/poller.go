package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatroom/internal/metrics"
	"github.com/eldtechnologies/chatroom/internal/store"
)

// Poll interval bounds for deployed configurations.
const (
	DefaultPollInterval = 2 * time.Second
	MinPollInterval     = 1 * time.Second
	MaxPollInterval     = 3 * time.Second
)

// ClampPollInterval keeps d within [MinPollInterval, MaxPollInterval].
// Zero or negative selects DefaultPollInterval.
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	default:
		return d
	}
}

// Poller drives a Session on a fixed interval and hands new deliveries to
// a render callback.
type Poller struct {
	interval time.Duration
	wake     <-chan struct{}
	logger   zerolog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the time between polls. Any positive value is accepted.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithWake polls immediately whenever ch receives, in addition to the ticker.
func WithWake(ch <-chan struct{}) PollerOption {
	return func(p *Poller) {
		p.wake = ch
	}
}

// WithLogger sets the logger used for transient failures.
func WithLogger(logger zerolog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller creates a Poller with DefaultPollInterval.
func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		interval: DefaultPollInterval,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls s until ctx is done or the session can no longer be polled.
// Store unavailability is logged and retried on the next tick. Run returns
// nil when ctx is cancelled, and the error otherwise.
func (p *Poller) Run(ctx context.Context, s *Session, render func([]Delivery)) error {
	logger := p.logger.With().
		Str("room", s.RoomCode()).
		Str("session", s.ID()).
		Logger()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	wake := p.wake
	for {
		if err := p.pollOnce(ctx, s, render); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, store.ErrUnavailable) {
				return err
			}
			logger.Warn().Err(err).Msg("poll failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, s *Session, render func([]Delivery)) error {
	deliveries, err := s.Poll(ctx)
	if err != nil {
		return err
	}
	if len(deliveries) > 0 {
		metrics.PollDeliveries.Add(float64(len(deliveries)))
		render(deliveries)
	}
	return nil
}
