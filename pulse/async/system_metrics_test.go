package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/intake/errors"
	qtest "github.com/teranos/intake/internal/testing"
)

const gb = 1024 * 1024 * 1024

func stubMemory(t *testing.T, total, available uint64, err error) {
	t.Helper()
	original := getMemoryStats
	getMemoryStats = func() (uint64, uint64, error) { return total, available, err }
	t.Cleanup(func() { getMemoryStats = original })
}

func TestCalculateSafeWorkerCount(t *testing.T) {
	tests := []struct {
		availableGB float64
		want        int
	}{
		{0.5, 1},
		{2.0, 1},
		{8.5, 5},
		{64, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateSafeWorkerCount(tt.availableGB), "available %.1fGB", tt.availableGB)
	}
}

func TestCheckMemoryPressure(t *testing.T) {
	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(5), createTestLogger())

	stubMemory(t, 4*gb, 2*gb, nil)
	assert.Contains(t, pool.checkMemoryPressure(), "exceeds recommended")

	stubMemory(t, 32*gb, 16*gb, nil)
	assert.Empty(t, pool.checkMemoryPressure())

	stubMemory(t, 0, 0, errors.New("no procfs"))
	assert.Empty(t, pool.checkMemoryPressure())
}

func TestGetSystemMetrics(t *testing.T) {
	stubMemory(t, 16*gb, 4*gb, nil)
	pool := NewWorkerPool(context.Background(), qtest.CreateTestDB(t), testPoolConfig(3), createTestLogger())

	m := pool.GetSystemMetrics()
	assert.Equal(t, 3, m.WorkersTotal)
	assert.InDelta(t, 16.0, m.MemoryTotalGB, 0.001)
	assert.InDelta(t, 75.0, m.MemoryPercent, 0.001)
}
