package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runstream/runtime/runlog"
	"goa.design/runstream/runtime/runlog/inmem"
)

const messageSchema = `{
	"type": "object",
	"properties": {
		"role": {"type": "string", "enum": ["user", "assistant"]},
		"content": {"type": "string"}
	},
	"required": ["role", "content"]
}`

func TestSchemaValidator(t *testing.T) {
	t.Parallel()

	v, err := NewSchemaValidator(map[runlog.EventType][]byte{
		runlog.EventMessages: []byte(messageSchema),
	})
	require.NoError(t, err)

	require.NoError(t, v.Validate(runlog.EventMessages, []byte(`{"role":"assistant","content":"hi"}`)))
	require.Error(t, v.Validate(runlog.EventMessages, []byte(`{"role":"robot","content":"hi"}`)))
	require.Error(t, v.Validate(runlog.EventMessages, []byte(`{"role":"user"}`)))
	require.NoError(t, v.Validate(runlog.EventValues, []byte(`"anything"`)))
}

func TestSchemaValidatorRejectsBadSchema(t *testing.T) {
	t.Parallel()

	_, err := NewSchemaValidator(map[runlog.EventType][]byte{
		runlog.EventMessages: []byte(`{not json`),
	})
	require.Error(t, err)

	_, err = NewSchemaValidator(map[runlog.EventType][]byte{
		runlog.EventMessages: []byte(`{"type": 12}`),
	})
	require.Error(t, err)
}

func TestEmitValidatesPayload(t *testing.T) {
	t.Parallel()

	v, err := NewSchemaValidator(map[runlog.EventType][]byte{
		runlog.EventMessages: []byte(messageSchema),
	})
	require.NoError(t, err)
	store := inmem.New()
	e, err := New(Options{Store: store, Validator: v})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Emit(ctx, "r", runlog.EventMessages, map[string]string{"role": "robot", "content": "x"})
	require.ErrorIs(t, err, ErrInvalidPayload)

	latest, err := store.LatestSeq(ctx, "r")
	require.NoError(t, err)
	assert.Zero(t, latest, "rejected payloads must not consume a sequence")

	ev, err := e.Emit(ctx, "r", runlog.EventMessages, map[string]string{"role": "user", "content": "x"})
	require.NoError(t, err)
	assert.Equal(t, "r_event_1", ev.ID)
}
