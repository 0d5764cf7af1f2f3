// Package audit records who changed what on the control plane.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Event struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Payload    map[string]any
}

type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// PoolRecorder inserts events into audit_events.
type PoolRecorder struct {
	pool   *pgxpool.Pool
	logger Logger
}

func NewPoolRecorder(pool *pgxpool.Pool, logger Logger) *PoolRecorder {
	return &PoolRecorder{pool: pool, logger: logger}
}

func (r *PoolRecorder) Record(ctx context.Context, event Event) error {
	body, err := marshalPayload(event.Payload)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, `
INSERT INTO audit_events (id, actor, action, entity_type, entity_id, payload)
VALUES ($1, $2, $3, $4, $5, $6)
`, uuid.New(), event.Actor, event.Action, event.EntityType, event.EntityID, body); err != nil {
		if r.logger != nil {
			r.logger.Error("audit log failed", "action", event.Action, "error", err)
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// LogRecorder writes events to the log, for runs without a control-plane
// database.
type LogRecorder struct {
	Logger Logger
}

func (r LogRecorder) Record(_ context.Context, event Event) error {
	body, err := marshalPayload(event.Payload)
	if err != nil {
		return err
	}
	r.Logger.Info("audit",
		"actor", event.Actor,
		"action", event.Action,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"payload", string(body),
	)
	return nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return body, nil
}
