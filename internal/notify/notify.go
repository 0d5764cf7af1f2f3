// Package notify delivers apply outcomes to operators.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"tenant_fleet_migrator/internal/fleet"
)

// LogNotifier writes each outcome to the log.
type LogNotifier struct {
	Logger fleet.Logger
}

func (n LogNotifier) Notify(_ context.Context, note fleet.Notification) error {
	args := []any{
		"store_id", note.StoreID,
		"store_kind", note.StoreKind,
		"outcome", note.Outcome,
		"applied", len(note.AppliedMigrations),
	}
	if note.Outcome == fleet.OutcomeFailure {
		if note.FailedMigration != nil {
			args = append(args, "module", note.FailedMigration.Module, "migration", note.FailedMigration.Name)
		}
		n.Logger.Error("migration apply failed", append(args, "error", note.Error)...)
		return nil
	}
	n.Logger.Info("migration apply finished", args...)
	return nil
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes each outcome as JSON on Subject.
type NATSNotifier struct {
	pub     publisher
	conn    *nats.Conn
	subject string
	logger  fleet.Logger
}

func NewNATSNotifier(url, subject string, logger fleet.Logger) (*NATSNotifier, error) {
	n := &NATSNotifier{subject: subject, logger: logger}
	conn, err := nats.Connect(
		url,
		nats.Name("fleet-migrator"),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(n.reconnectHandler),
		nats.DisconnectErrHandler(n.disconnectHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	n.conn = conn
	n.pub = conn
	return n, nil
}

func (n *NATSNotifier) reconnectHandler(nc *nats.Conn) {
	n.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
}

func (n *NATSNotifier) disconnectHandler(_ *nats.Conn, err error) {
	if err != nil {
		n.logger.Error("nats disconnected", "error", err)
	}
}

func (n *NATSNotifier) Notify(_ context.Context, note fleet.Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.pub.Publish(n.subject, body); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSNotifier) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// Multi delivers to every notifier and joins their errors.
type Multi []fleet.Notifier

func (m Multi) Notify(ctx context.Context, note fleet.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
