package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := LogRecorder{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	err := r.Record(context.Background(), Event{
		Actor:      "alice",
		Action:     "migration.rollback",
		EntityType: "store",
		EntityID:   "t1",
		Payload:    map[string]any{"module": "Core"},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"actor":"alice"`)
	assert.Contains(t, out, `"action":"migration.rollback"`)
	assert.Contains(t, out, `{\"module\":\"Core\"}`)
}

func TestMarshalPayload(t *testing.T) {
	body, err := marshalPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))

	_, err = marshalPayload(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}
