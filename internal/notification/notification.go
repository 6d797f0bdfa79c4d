package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"binance-signal-engine/internal/fusion"
)

// Notifier delivers signals to one downstream sink. SendSignal returns the
// provider's message id so callers can link the delivery back to the stored
// signal.
type Notifier interface {
	SendSignal(ctx context.Context, sig *fusion.Signal) (string, error)
	SendText(ctx context.Context, title, message string) error
	Name() string
	Enabled() bool
}

// Manager fans a signal out to every enabled notifier. Each sink sits behind
// its own circuit breaker so a dead provider stops consuming send attempts
// while the others keep delivering.
type Manager struct {
	notifiers []*wrappedNotifier
	logger    zerolog.Logger
}

type wrappedNotifier struct {
	Notifier
	breaker *gobreaker.CircuitBreaker
}

// NewManager creates an empty notification manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "notification").Logger(),
	}
}

// Add registers a notifier behind a fresh circuit breaker.
func (m *Manager) Add(n Notifier) {
	logger := m.logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    n.Name(),
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("notifier", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Notifier circuit breaker state changed")
		},
	})
	m.notifiers = append(m.notifiers, &wrappedNotifier{Notifier: n, breaker: breaker})
}

// Enabled reports whether at least one registered notifier can deliver.
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.Enabled() {
			return true
		}
	}
	return false
}

// SendResult reports one notifier's delivery outcome.
type SendResult struct {
	Notifier  string
	MessageID string
	Err       error
}

// SendSignal delivers the signal to every enabled notifier and reports each
// sink's outcome. One failing sink never blocks the others.
func (m *Manager) SendSignal(ctx context.Context, sig *fusion.Signal) []SendResult {
	results := make([]SendResult, 0, len(m.notifiers))

	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}

		result, err := n.breaker.Execute(func() (interface{}, error) {
			return n.SendSignal(ctx, sig)
		})
		if err != nil {
			results = append(results, SendResult{Notifier: n.Name(), Err: err})
			m.logger.Error().
				Err(err).
				Str("notifier", n.Name()).
				Str("symbol", sig.Symbol).
				Msg("Failed to deliver signal")
			continue
		}

		id, _ := result.(string)
		results = append(results, SendResult{Notifier: n.Name(), MessageID: id})
		m.logger.Info().
			Str("notifier", n.Name()).
			Str("symbol", sig.Symbol).
			Str("direction", string(sig.Direction)).
			Msg("Signal delivered")
	}

	return results
}

// SendText delivers a plain titled message, used for startup and error
// notices.
func (m *Manager) SendText(ctx context.Context, title, message string) error {
	var lastErr error
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}

		_, err := n.breaker.Execute(func() (interface{}, error) {
			return nil, n.SendText(ctx, title, message)
		})
		if err != nil {
			lastErr = err
			m.logger.Error().Err(err).Str("notifier", n.Name()).Msg("Failed to deliver message")
		}
	}
	return lastErr
}

// Status reports each notifier's breaker state for diagnostics.
func (m *Manager) Status() map[string]string {
	status := make(map[string]string, len(m.notifiers))
	for _, n := range m.notifiers {
		if !n.Enabled() {
			status[n.Name()] = "disabled"
			continue
		}
		status[n.Name()] = n.breaker.State().String()
	}
	return status
}
