package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/model"
)

type fakeStore struct {
	events []*model.AuditEvent
	err    error
}

func (f *fakeStore) AppendAuditEvent(_ context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	ev := &model.AuditEvent{JobID: jobID, SequenceNum: int64(len(f.events) + 1), Type: eventType, Payload: payload}
	f.events = append(f.events, ev)
	return ev, nil
}

type fakeBroadcaster struct {
	calls []struct {
		channel string
		event   map[string]any
	}
}

func (f *fakeBroadcaster) Broadcast(channel string, event map[string]any) {
	f.calls = append(f.calls, struct {
		channel string
		event   map[string]any
	}{channel, event})
}

func TestAppend_PersistsAndBroadcastsEntry(t *testing.T) {
	st := &fakeStore{}
	bc := &fakeBroadcaster{}
	l := New(st, bc)

	ev, err := l.Append(context.Background(), "job-1", model.AuditChunkComplete, map[string]any{"chunk_index": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.SequenceNum)

	require.Len(t, bc.calls, 1)
	assert.Equal(t, "audit:job-1", bc.calls[0].channel)
	assert.Equal(t, "entry", bc.calls[0].event["type"])
}

func TestAppend_TerminalEventAlsoBroadcastsCompleted(t *testing.T) {
	st := &fakeStore{}
	bc := &fakeBroadcaster{}
	l := New(st, bc)

	_, err := l.Append(context.Background(), "job-2", model.AuditJobComplete, map[string]any{})
	require.NoError(t, err)

	require.Len(t, bc.calls, 2)
	assert.Equal(t, "entry", bc.calls[0].event["type"])
	assert.Equal(t, "completed", bc.calls[1].event["type"])
}

func TestAppend_StoreErrorSkipsBroadcast(t *testing.T) {
	st := &fakeStore{err: assert.AnError}
	bc := &fakeBroadcaster{}
	l := New(st, bc)

	_, err := l.Append(context.Background(), "job-3", model.AuditChunkStarted, map[string]any{})
	require.Error(t, err)
	assert.Empty(t, bc.calls)
}
