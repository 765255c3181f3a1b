package metrics

import (
	"sync"
	"time"
)

// Package metrics provides a minimal instrumentation interface with a no-op
// default and a Prometheus-backed implementation wired up in main.

// Recorder defines the metrics surface used across the sync engine.
type Recorder interface {
	IncSyncRuns(entityType string, success bool)
	ObserveSyncSeconds(entityType string, success bool, seconds float64)
	AddRecordsSynced(entityType string, n int)
	AddRecordsSkipped(entityType string, n int)
	IncFetchRetries(entityType string)
	IncBatchesProjected(entityType string)
	AddDocsProjected(entityType string, n int)
}

type noopRecorder struct{}

func (noopRecorder) IncSyncRuns(string, bool)                {}
func (noopRecorder) ObserveSyncSeconds(string, bool, float64) {}
func (noopRecorder) AddRecordsSynced(string, int)            {}
func (noopRecorder) AddRecordsSkipped(string, int)           {}
func (noopRecorder) IncFetchRetries(string)                  {}
func (noopRecorder) IncBatchesProjected(string)              {}
func (noopRecorder) AddDocsProjected(string, int)            {}

var (
	recMu    sync.RWMutex
	recorder Recorder = noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	recorder = r
}

// TimeSync times one entity sync run.
func TimeSync(entityType string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncSyncRuns(entityType, success)
		Default().ObserveSyncSeconds(entityType, success, dur)
	}
}
