package scan

import "runtime"

// Scan worker limits
const (
	MinWorkers = 1
	MaxWorkers = 8
)

// ClampWorkerCount ensures the worker count is within valid bounds.
func ClampWorkerCount(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// WorkerCount returns the pool size for scanning files: one worker for a
// single file, otherwise min(MaxWorkers, NumCPU, limit, files). limit <= 0
// means no extra cap.
func WorkerCount(files, limit int) int {
	if files <= 1 {
		return MinWorkers
	}
	n := runtime.NumCPU()
	if limit > 0 && limit < n {
		n = limit
	}
	if files < n {
		n = files
	}
	return ClampWorkerCount(n)
}
