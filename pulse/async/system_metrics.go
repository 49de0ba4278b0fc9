package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/intake/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	TasksQueued   int     `json:"tasks_queued"`
	TasksRunning  int     `json:"tasks_running"`
}

// getMemoryStats is a variable so tests can stub host memory
var getMemoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available memory.
// A stage holding a parsed sheet, OCR output and a local model call peaks near 1.5GB.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 1.5
	const memoryBuffer = 1.0

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	queued, running, err := wp.queue.GetTaskCounts()
	if err != nil {
		queued, running = 0, 0
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		TasksQueued:   queued,
		TasksRunning:  running,
	}
}

// checkMemoryPressure returns a warning when the worker count looks too high
// for available memory, or "" when it is fine or cannot be measured.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider lowering pulse.workers.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
