package broadcast

import (
	"log/slog"
	"time"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/channel"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry replaces the default channel registry, typically to install
// channel type rules before any subscriber arrives.
func WithRegistry(r *channel.Registry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithBroker configures the cross-process fan-out backend. Without a broker
// the manager is a purely local broadcaster.
func WithBroker(b broker.Broker) ManagerOption {
	return func(m *Manager) {
		m.broker = b
	}
}

// WithLogger configures structured logging for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPublishTimeout bounds each fire-and-forget broker publish.
func WithPublishTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.publishTimeout = timeout
		}
	}
}

// WithStopTimeout bounds how long Stop waits for in-flight publishes.
func WithStopTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.stopTimeout = timeout
		}
	}
}

// WithBrokerSubscriptions registers channel patterns the manager subscribes
// to on Start. Intended for ephemeral pub/sub brokers, where inbound fan-in
// happens on the manager itself; log-based brokers are consumed by the
// dedicated consumer loop instead.
func WithBrokerSubscriptions(patterns ...string) ManagerOption {
	return func(m *Manager) {
		for _, p := range patterns {
			if p != "" {
				m.subscriptions = append(m.subscriptions, p)
			}
		}
	}
}
