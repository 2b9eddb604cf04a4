package pubsub

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/orgboard/orgsync/internal/config"
	"github.com/orgboard/orgsync/internal/db"
)

// EntityChangeEvent is a local-store write observed through postgres NOTIFY.
// Table names what changed ("events", "transactions"), Operation is the SQL op.
type EntityChangeEvent struct {
	Table     string
	Operation string
}

// EntityChangeHandler is a callback for entity changes
type EntityChangeHandler func(event EntityChangeEvent)

// PubSub handles PostgreSQL LISTEN/NOTIFY for local entity writes. The sync
// orchestrator subscribes to it to fold mutations into outward cycles.
type PubSub struct {
	connStr  string
	listener *pq.Listener
	handlers []EntityChangeHandler
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPubSub creates a new PubSub instance
func NewPubSub(conf *config.Config) *PubSub {
	ctx, cancel := context.WithCancel(context.Background())

	return &PubSub{
		connStr:  db.ConnString(conf),
		handlers: make([]EntityChangeHandler, 0),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe adds a handler for entity change events
func (ps *PubSub) Subscribe(handler EntityChangeHandler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.handlers = append(ps.handlers, handler)
}

// Start begins listening for notifications
func (ps *PubSub) Start() error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Error("PubSub listener error", slog.Any("error", err))
		}
		if ev == pq.ListenerEventConnectionAttemptFailed {
			slog.Warn("PubSub connection attempt failed, will retry")
		}
		if ev == pq.ListenerEventDisconnected {
			slog.Warn("PubSub disconnected, will attempt reconnect")
		}
		if ev == pq.ListenerEventReconnected {
			slog.Info("PubSub reconnected, triggering catch-up sync")
			// Notifications may have been missed while disconnected, so nudge
			// both entity kinds.
			ps.notifyHandlers(EntityChangeEvent{Table: "events", Operation: "RELOAD"})
			ps.notifyHandlers(EntityChangeEvent{Table: "transactions", Operation: "RELOAD"})
		}
	}

	ps.listener = pq.NewListener(ps.connStr, 10*time.Second, time.Minute, reportProblem)

	if err := ps.listener.Listen("entity_changes"); err != nil {
		return err
	}

	slog.Info("PubSub started listening for entity changes")

	go ps.processNotifications()

	return nil
}

// Stop closes the listener
func (ps *PubSub) Stop() {
	ps.cancel()
	if ps.listener != nil {
		ps.listener.Close()
	}
	slog.Info("PubSub stopped")
}

func (ps *PubSub) processNotifications() {
	for {
		select {
		case <-ps.ctx.Done():
			return
		case notification := <-ps.listener.Notify:
			if notification == nil {
				// Connection lost, will be handled by reportProblem callback
				continue
			}

			// Parse the payload: "table_name:operation"
			parts := strings.SplitN(notification.Extra, ":", 2)
			if len(parts) != 2 {
				slog.Warn("Invalid notification payload", slog.String("payload", notification.Extra))
				continue
			}

			event := EntityChangeEvent{
				Table:     parts[0],
				Operation: parts[1],
			}

			slog.Debug("Received entity change notification",
				slog.String("table", event.Table),
				slog.String("operation", event.Operation))

			ps.notifyHandlers(event)
		}
	}
}

func (ps *PubSub) notifyHandlers(event EntityChangeEvent) {
	ps.mu.RLock()
	handlers := make([]EntityChangeHandler, len(ps.handlers))
	copy(handlers, ps.handlers)
	ps.mu.RUnlock()

	for _, handler := range handlers {
		// Run handlers in goroutines to avoid blocking the notification loop
		go handler(event)
	}
}
