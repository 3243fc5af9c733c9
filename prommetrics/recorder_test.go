// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rlazarev/go-offsync/offsync"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)

	rec.ObserveCycle(offsync.SyncResult{Success: true, Synced: 2}, 120*time.Millisecond)
	rec.ObserveCycle(offsync.SyncResult{Success: false, Failed: 1}, 80*time.Millisecond)
	rec.ObservePushEntry("office", offsync.OpInsert, offsync.MetricsStatusSynced)
	rec.ObservePushEntry("office", offsync.OpUpdate, offsync.MetricsStatusFailed)
	rec.ObservePullMerge("office", offsync.MetricsMergeSkipLocal)
	rec.SetQueueDepth(4, 1)

	require.Equal(t, 1.0, testutil.ToFloat64(rec.cycles.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.cycles.WithLabelValues("failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.pushEntries.WithLabelValues("office", "INSERT", "synced")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.pushEntries.WithLabelValues("office", "UPDATE", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.pullMerges.WithLabelValues("office", "skip_unsynced_local")))
	require.Equal(t, 4.0, testutil.ToFloat64(rec.queueBacklog))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.deadLetters))
}
