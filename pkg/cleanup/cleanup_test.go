package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/config"
)

type fakeStore struct {
	calls     int32
	deleted   int64
	lastCut   time.Time
	returnErr error
}

func (f *fakeStore) DeleteTerminalJobsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastCut = cutoff
	if f.returnErr != nil {
		return 0, f.returnErr
	}
	return f.deleted, nil
}

func TestSweeper_RunsImmediatelyOnStart(t *testing.T) {
	fs := &fakeStore{deleted: 3}
	s := NewSweeper(&config.RetentionConfig{TerminalJobTTL: time.Hour, CleanupInterval: time.Hour}, fs)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fs.calls) >= 1 }, time.Second, 5*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), fs.lastCut, 2*time.Second)
}

func TestSweeper_TicksOnInterval(t *testing.T) {
	fs := &fakeStore{}
	s := NewSweeper(&config.RetentionConfig{TerminalJobTTL: time.Minute, CleanupInterval: 10 * time.Millisecond}, fs)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fs.calls) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestSweeper_StopIsIdempotentAndStartIsIdempotent(t *testing.T) {
	fs := &fakeStore{}
	s := NewSweeper(&config.RetentionConfig{TerminalJobTTL: time.Hour, CleanupInterval: time.Hour}, fs)

	s.Start(context.Background())
	s.Start(context.Background()) // no-op, must not spawn a second loop
	s.Stop()
	s.Stop() // no-op
}
