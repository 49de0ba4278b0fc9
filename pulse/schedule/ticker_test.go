package schedule

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/errors"
	qtest "github.com/teranos/intake/internal/testing"
	"github.com/teranos/intake/pulse/async"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTicker(t *testing.T, queue *async.Queue) (*Ticker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	ticker := NewTicker(context.Background(), queue, nil, DefaultTickerConfig(), nil)
	ticker.now = clock.Now
	return ticker, clock
}

func TestTickRunsDueJobsOncePerPeriod(t *testing.T) {
	ticker, clock := newTestTicker(t, nil)
	calls := 0
	require.NoError(t, ticker.Add(Job{Name: "count", Every: time.Minute, Run: func(context.Context) error {
		calls++
		return nil
	}}))

	ticker.tick(context.Background())
	assert.Equal(t, 0, calls, "first run is one period out")

	clock.Advance(time.Minute)
	ticker.tick(context.Background())
	ticker.tick(context.Background())
	assert.Equal(t, 1, calls)

	clock.Advance(90 * time.Second)
	ticker.tick(context.Background())
	assert.Equal(t, 2, calls)

	runs, err := ticker.Runs("count")
	assert.NoError(t, err)
	assert.Equal(t, 2, runs)
}

func TestFailingJobKeepsItsSchedule(t *testing.T) {
	ticker, clock := newTestTicker(t, nil)
	require.NoError(t, ticker.Add(Job{Name: "broken", Every: time.Second, Run: func(context.Context) error {
		return errors.New("disk full")
	}}))

	clock.Advance(time.Second)
	ticker.tick(context.Background())
	clock.Advance(time.Second)
	ticker.tick(context.Background())

	runs, lastErr := ticker.Runs("broken")
	assert.Equal(t, 2, runs)
	assert.EqualError(t, lastErr, "disk full")
}

func TestAddValidates(t *testing.T) {
	ticker, _ := newTestTicker(t, nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, ticker.Add(Job{Every: time.Second, Run: noop}))
	assert.Error(t, ticker.Add(Job{Name: "zero", Run: noop}))
	require.NoError(t, ticker.Add(Job{Name: "once", Every: time.Second, Run: noop}))
	assert.True(t, errors.IsConflictError(ticker.Add(Job{Name: "once", Every: time.Second, Run: noop})))

	_, err := ticker.Runs("missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCleanupJobRemovesFinishedTasks(t *testing.T) {
	queue := async.NewQueue(qtest.CreateTestDB(t))

	done, err := async.NewTask("pipeline.advance", "job-done", json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(done))
	require.NoError(t, queue.CompleteTask(done.ID))

	pending, err := async.NewTask("pipeline.advance", "job-pending", json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(pending))

	// Negative retention makes every finished task old enough
	job := CleanupJob(queue, time.Hour, -time.Minute, nil)
	assert.Equal(t, "queue.cleanup", job.Name)
	require.NoError(t, job.Run(context.Background()))

	_, err = queue.GetTask(done.ID)
	assert.Error(t, err)
	got, err := queue.GetTask(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, async.TaskStatusQueued, got.Status)
}

func TestStartStop(t *testing.T) {
	queue := async.NewQueue(qtest.CreateTestDB(t))
	ticker := NewTicker(context.Background(), queue, nil, TickerConfig{Interval: 10 * time.Millisecond}, nil)

	ran := make(chan struct{}, 1)
	require.NoError(t, ticker.Add(Job{Name: "ping", Every: time.Millisecond, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}))

	ticker.Start()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job never ran")
	}
	ticker.Stop()
}
