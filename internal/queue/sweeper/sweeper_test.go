package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/profile-queue/internal/queue"
)

type fakeTarget struct {
	calls  int32
	result queue.SweepResult
	err    error
	panic  bool
}

func (f *fakeTarget) SweepStale(ctx context.Context) (queue.SweepResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.panic {
		panic("boom")
	}
	return f.result, f.err
}

func (f *fakeTarget) count() int32 {
	return atomic.LoadInt32(&f.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every descriptor", expr: "@every 30s"},
		{name: "five field", expr: "*/5 * * * *"},
		{name: "hourly", expr: "@hourly"},
		{name: "garbage", expr: "not-a-cron", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	s, err := New(&fakeTarget{}, "every now and then", 0, discardLogger())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}

func TestRunOnce(t *testing.T) {
	want := queue.SweepResult{Scanned: 2, Retried: 1, Failed: 1}
	target := &fakeTarget{result: want}

	s, err := New(target, "", time.Second, discardLogger())
	require.NoError(t, err)

	got, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.EqualValues(t, 1, target.count())
}

func TestRunOnce_PropagatesError(t *testing.T) {
	target := &fakeTarget{err: errors.New("db down")}

	s, err := New(target, "", 0, discardLogger())
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	target := &fakeTarget{panic: true}

	s, err := New(target, "", 0, discardLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err = s.RunOnce(context.Background())
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep panicked")
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	target := &fakeTarget{}

	s, err := New(target, "@every 1s", 0, discardLogger())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return target.count() >= 1 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
