package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/foreman-run/foreman/internal"
)

// NewJobChannel is the PostgreSQL NOTIFY channel a Worker's Listener
// subscribes to; Storage.Notify publishes to it whenever a job becomes
// eligible for leasing (a fresh Add, or a retry via MoveToFailed /
// RetryStalledJobs).
const NewJobChannel = "new_job"

// Listener wraps a single long-lived *pq.Listener connection subscribed
// to NewJobChannel, kept separate from Storage's pooled connection
// because LISTEN/NOTIFY channels are scoped to the connection that
// issued LISTEN.
//
// Listener feeds internal.WakeUp rather than exposing pq.Listener's raw
// Notify channel directly: callers only ever care that *something*
// changed, and WakeUp's coalescing means a burst of notifications wakes
// the poll loop once instead of once per notification.
type Listener struct {
	pqListener *pq.Listener
	wakeUp     *internal.WakeUp
	log        *slog.Logger
}

// NewListener opens a dedicated LISTEN connection against databaseURL
// and begins forwarding NewJobChannel notifications to wakeUp.Signal.
// Connection loss is handled transparently by *pq.Listener's built-in
// reconnect logic; log receives a line on every connect/disconnect
// transition.
func NewListener(databaseURL string, wakeUp *internal.WakeUp, log *slog.Logger) (*Listener, error) {
	l := &Listener{wakeUp: wakeUp, log: log}
	reportProblem := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info("listener connected")
		case pq.ListenerEventDisconnected:
			log.Warn("listener disconnected", "err", err)
		case pq.ListenerEventReconnected:
			log.Info("listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("listener connection attempt failed", "err", err)
		}
	}

	pqListener := pq.NewListener(databaseURL, 10*time.Second, time.Minute, reportProblem)
	if err := pqListener.Listen(NewJobChannel); err != nil {
		_ = pqListener.Close()
		return nil, fmt.Errorf("storage: listen %s: %w", NewJobChannel, err)
	}
	l.pqListener = pqListener

	go l.forward()
	return l, nil
}

func (l *Listener) forward() {
	for range l.pqListener.Notify {
		l.wakeUp.Signal()
	}
}

// Close stops forwarding notifications and closes the underlying
// connection.
func (l *Listener) Close() error {
	return l.pqListener.Close()
}
