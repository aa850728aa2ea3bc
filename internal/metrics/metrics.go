// Package metrics exposes Prometheus counters, gauges, and histograms for
// the backup, restore, and recovery engines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric backupd exposes.
type Metrics struct {
	// Backup metrics
	BackupsTotal            *prometheus.CounterVec
	BackupDuration          prometheus.Histogram
	FilesBackedUpTotal      prometheus.Counter
	ChunksWrittenTotal      prometheus.Counter
	ChunksDeduplicatedTotal prometheus.Counter
	BytesStoredTotal        prometheus.Counter

	// Restore metrics
	RestoresTotal      *prometheus.CounterVec
	RestoreDuration    prometheus.Histogram
	FilesRestoredTotal *prometheus.CounterVec // label: outcome (written|skipped|failed)
	IntegrityFailures  prometheus.Counter

	// Recovery metrics
	OrphansDetectedTotal prometheus.Counter
	OrphanBytesFreed     prometheus.Counter
	SnapshotsSalvaged    *prometheus.CounterVec // label: corrupted (true|false)

	// Storage gauges
	ChunkStoreBytes prometheus.Gauge
	ManifestCount   prometheus.Gauge
}

// NewMetrics creates and registers every metric with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		BackupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backupd_backups_total",
				Help: "Total backup runs by outcome",
			},
			[]string{"outcome"},
		),
		BackupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backupd_backup_duration_seconds",
				Help:    "Backup run completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
			},
		),
		FilesBackedUpTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_files_backed_up_total",
				Help: "Total file records written across all backups",
			},
		),
		ChunksWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_chunks_written_total",
				Help: "Total new chunks written to the chunk store",
			},
		),
		ChunksDeduplicatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_chunks_deduplicated_total",
				Help: "Total chunk puts that matched an already-stored digest",
			},
		),
		BytesStoredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_bytes_stored_total",
				Help: "Total bytes written to the chunk store (post-dedup)",
			},
		),

		RestoresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backupd_restores_total",
				Help: "Total restore runs by outcome",
			},
			[]string{"outcome"},
		),
		RestoreDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backupd_restore_duration_seconds",
				Help:    "Restore run completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
			},
		),
		FilesRestoredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backupd_files_restored_total",
				Help: "Total files processed during restore by outcome",
			},
			[]string{"outcome"},
		),
		IntegrityFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_integrity_failures_total",
				Help: "Total integrity verification failures detected during restore",
			},
		),

		OrphansDetectedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_orphans_detected_total",
				Help: "Total orphan chunks found across all orphan scans",
			},
		),
		OrphanBytesFreed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_orphan_bytes_freed_total",
				Help: "Total bytes freed by orphan cleanup",
			},
		),
		SnapshotsSalvaged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backupd_snapshots_salvaged_total",
				Help: "Total manifests seen during salvage, by corrupted status",
			},
			[]string{"corrupted"},
		),

		ChunkStoreBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backupd_chunk_store_bytes",
				Help: "Total bytes currently in the chunk store",
			},
		),
		ManifestCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backupd_manifest_count",
				Help: "Total manifests currently in the manifest store",
			},
		),
	}
}

// RecordBackup records a completed backup run's outcome and duration.
func (m *Metrics) RecordBackup(success bool, durationSeconds float64, fileCount int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.BackupsTotal.WithLabelValues(outcome).Inc()
	m.BackupDuration.Observe(durationSeconds)
	m.FilesBackedUpTotal.Add(float64(fileCount))
}

// RecordChunkPut records one chunk store Put, distinguishing a fresh write
// from a deduplicated hit.
func (m *Metrics) RecordChunkPut(deduplicated bool, size int) {
	if deduplicated {
		m.ChunksDeduplicatedTotal.Inc()
		return
	}
	m.ChunksWrittenTotal.Inc()
	m.BytesStoredTotal.Add(float64(size))
}

// RecordRestore records a completed restore run's outcome and duration.
func (m *Metrics) RecordRestore(success bool, durationSeconds float64, written, skipped, failed int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.RestoresTotal.WithLabelValues(outcome).Inc()
	m.RestoreDuration.Observe(durationSeconds)
	m.FilesRestoredTotal.WithLabelValues("written").Add(float64(written))
	m.FilesRestoredTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.FilesRestoredTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordIntegrityFailure increments the integrity failure counter.
func (m *Metrics) RecordIntegrityFailure() {
	m.IntegrityFailures.Inc()
}

// RecordOrphanScan records an orphan detection pass's findings.
func (m *Metrics) RecordOrphanScan(count int) {
	m.OrphansDetectedTotal.Add(float64(count))
}

// RecordOrphanCleanup records bytes freed by an orphan cleanup pass.
func (m *Metrics) RecordOrphanCleanup(bytesFreed int64) {
	m.OrphanBytesFreed.Add(float64(bytesFreed))
}

// RecordSalvage records one manifest seen during a salvage pass.
func (m *Metrics) RecordSalvage(corrupted bool) {
	label := "false"
	if corrupted {
		label = "true"
	}
	m.SnapshotsSalvaged.WithLabelValues(label).Inc()
}

// SetStoreStats sets the chunk-store-bytes and manifest-count gauges.
func (m *Metrics) SetStoreStats(chunkStoreBytes int64, manifestCount int) {
	m.ChunkStoreBytes.Set(float64(chunkStoreBytes))
	m.ManifestCount.Set(float64(manifestCount))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
