// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import "time"

// Push entry statuses reported to the metrics recorder.
const (
	MetricsStatusSynced = "synced"
	MetricsStatusFailed = "failed"
)

// Pull merge outcomes reported to the metrics recorder.
const (
	MetricsMergeInsert    = "insert"
	MetricsMergeOverwrite = "overwrite"
	MetricsMergeTombstone = "tombstone"
	MetricsMergeSkipStale = "skip_stale"
	MetricsMergeSkipLocal = "skip_unsynced_local"
)

// MetricsRecorder receives sync telemetry. Implementations must be safe for
// concurrent use; a nil recorder disables recording.
type MetricsRecorder interface {
	ObserveCycle(result SyncResult, duration time.Duration)
	ObservePushEntry(entity string, op Op, status string)
	ObservePullMerge(entity string, outcome string)
	SetQueueDepth(pending, dead int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCycle(SyncResult, time.Duration) {}
func (nopMetrics) ObservePushEntry(string, Op, string)    {}
func (nopMetrics) ObservePullMerge(string, string)        {}
func (nopMetrics) SetQueueDepth(int, int)                 {}
