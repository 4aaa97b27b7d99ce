package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/runstream/runtime/runlog"
)

func TestResumePoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cursor  string
		after   int64
		outcome ResumeOutcome
	}{
		{"fresh", "", 0, ResumeFresh},
		{"valid", "run-1_event_3", 3, ResumeValid},
		{"valid_zero", "run-1_event_0", 0, ResumeValid},
		{"negative", "run-1_event_-5", 0, ResumeValid},
		{"malformed", "run-1_event_abc", 0, ResumeMalformed},
		{"truncated", "run-1_event_", 0, ResumeMalformed},
		{"no_separator", "garbage", 0, ResumeMalformed},
		{"foreign_run", "run-2_event_3", 0, ResumeForeignRun},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			after, outcome := ResumePoint("run-1", tc.cursor)
			assert.Equal(t, tc.after, after)
			assert.Equal(t, tc.outcome, outcome)
		})
	}
}

func TestResumeReplaysAfterCursor(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ev, err := e.Emit(ctx, "run-1", runlog.EventValues, map[string]int{"i": i})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	res, err := e.Resume(ctx, "run-1", ids[2], 10)
	require.NoError(t, err)
	assert.False(t, res.Restarted)
	assert.Equal(t, ResumeValid, res.Outcome)
	assert.Equal(t, int64(3), res.AfterSeq)
	require.Len(t, res.Events, 2)
	assert.Equal(t, ids[3], res.Events[0].ID)
	assert.Equal(t, ids[4], res.Events[1].ID)

	res, err = e.Resume(ctx, "run-1", ids[4], 10)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestResumeRestartsOnUnusableCursor(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.Emit(ctx, "run-1", runlog.EventValues, map[string]int{"i": i})
		require.NoError(t, err)
	}

	for _, cursor := range []string{"run-1_event_oops", "run-2_event_2", "_event_"} {
		res, err := e.Resume(ctx, "run-1", cursor, 10)
		require.NoError(t, err)
		assert.True(t, res.Restarted, cursor)
		assert.Zero(t, res.AfterSeq)
		assert.Len(t, res.Events, 3)
	}
}
