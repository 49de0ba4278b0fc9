package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	qtest "github.com/teranos/intake/internal/testing"
)

// ============================================================================
// TAS Bot (Tool-Assisted Speedrun) & Kirby Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who schedules tasks
//   - Kirby: The worker who inhales and executes tasks ('Poyo!')
// ============================================================================

func createTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testPoolConfig(workers int) WorkerPoolConfig {
	return WorkerPoolConfig{Workers: workers, PollInterval: 10 * time.Millisecond}
}

// kirbyHandler runs fn for every task it inhales
type kirbyHandler struct {
	fn func(ctx context.Context, task *Task) error
}

func (h *kirbyHandler) Name() string { return "pipeline.advance" }

func (h *kirbyHandler) Execute(ctx context.Context, task *Task) error {
	return h.fn(ctx, task)
}

func waitForStatus(t *testing.T, queue *Queue, id string, want TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := queue.GetTask(id)
		return err == nil && task.Status == want
	}, 3*time.Second, 10*time.Millisecond, "task %s never reached %s", id, want)
}

func TestTASBotInitializesWorkerPool(t *testing.T) {
	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(3), createTestLogger())
	assert.Equal(t, 3, pool.Workers())
	assert.NotNil(t, pool.Registry())
	assert.NotNil(t, pool.Queue())

	defaults := DefaultWorkerPoolConfig()
	assert.Equal(t, 5, defaults.Workers)
}

func TestKirbyExecutesTasks(t *testing.T) {
	t.Log("⭐ Kirby inhales queued tasks... 'Poyo!'")

	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(2), createTestLogger())
	var executed atomic.Int32
	pool.Registry().Register(&kirbyHandler{fn: func(ctx context.Context, task *Task) error {
		executed.Add(1)
		return nil
	}})

	var ids []string
	for i := 0; i < 3; i++ {
		task := newTestTask(t, "job-kirby", 0)
		require.NoError(t, pool.Queue().Enqueue(task))
		ids = append(ids, task.ID)
	}

	pool.Start()
	defer pool.Stop()

	for _, id := range ids {
		waitForStatus(t, pool.Queue(), id, TaskStatusCompleted)
	}
	assert.Equal(t, int32(3), executed.Load())
}

func TestKirbyFailsTaskOnHandlerError(t *testing.T) {
	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(1), createTestLogger())
	pool.Registry().Register(&kirbyHandler{fn: func(ctx context.Context, task *Task) error {
		return errors.New("sheet unreachable")
	}})

	task := newTestTask(t, "job-fail", 0)
	require.NoError(t, pool.Queue().Enqueue(task))

	pool.Start()
	defer pool.Stop()

	waitForStatus(t, pool.Queue(), task.ID, TaskStatusFailed)
	got, err := pool.Queue().GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "sheet unreachable", got.Error)
}

func TestTASBotGracefulShutdownRequeues(t *testing.T) {
	t.Log("🎮 TAS Bot pulls the plug mid-task; the task must go back in the queue")

	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(1), createTestLogger())
	started := make(chan struct{})
	pool.Registry().Register(&kirbyHandler{fn: func(ctx context.Context, task *Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	task := newTestTask(t, "job-shutdown", 0)
	require.NoError(t, pool.Queue().Enqueue(task))
	pool.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}

	begin := time.Now()
	pool.Stop()
	assert.Less(t, time.Since(begin), 3*time.Second)

	got, err := pool.Queue().GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusQueued, got.Status)
}

func TestOrphanedTasksAreRecovered(t *testing.T) {
	db := qtest.CreateTestDB(t)
	queue := NewQueue(db)

	task := newTestTask(t, "job-orphan", 0)
	require.NoError(t, queue.Enqueue(task))
	claimed, err := queue.Dequeue()
	require.NoError(t, err)
	require.Equal(t, TaskStatusRunning, claimed.Status)
	// the process that claimed it "crashed" here

	pool := NewWorkerPoolWithQueue(context.Background(), queue, testPoolConfig(1), createTestLogger())
	pool.Registry().Register(&kirbyHandler{fn: func(ctx context.Context, task *Task) error { return nil }})
	pool.Start()
	defer pool.Stop()

	waitForStatus(t, queue, task.ID, TaskStatusCompleted)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(2), createTestLogger())

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	pool.Registry().Register(&kirbyHandler{fn: func(ctx context.Context, task *Task) error {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}})

	var ids []string
	for i := 0; i < 6; i++ {
		task := newTestTask(t, "job-cap", 0)
		require.NoError(t, pool.Queue().Enqueue(task))
		ids = append(ids, task.ID)
	}

	pool.Start()
	defer pool.Stop()

	for _, id := range ids {
		waitForStatus(t, pool.Queue(), id, TaskStatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPoolRestartAfterStop(t *testing.T) {
	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(1), createTestLogger())
	pool.Registry().Register(&kirbyHandler{fn: func(ctx context.Context, task *Task) error { return nil }})

	pool.Start()
	pool.Stop()
	pool.Start()
	defer pool.Stop()

	task := newTestTask(t, "job-restart", 0)
	require.NoError(t, pool.Queue().Enqueue(task))
	waitForStatus(t, pool.Queue(), task.ID, TaskStatusCompleted)
}
