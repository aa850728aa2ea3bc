// Package logging wraps zerolog for structured, domain-aware logging
// across the backup, restore, recovery, and scheduler engines.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger tagged with service name and
// version.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithManifest adds manifest_id context to logger.
func (l *Logger) WithManifest(manifestID string) *Logger {
	return &Logger{logger: l.logger.With().Str("manifest_id", manifestID).Logger()}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(logicalPath string, size int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("logical_path", logicalPath).
			Int64("size", size).
			Logger(),
	}
}

func (l *Logger) Debug(msg string)            { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)             { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)             { l.logger.Warn().Msg(msg) }
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// BackupStarted logs the start of a backup run.
func (l *Logger) BackupStarted(label, sourceRoot string, chunkSize int64, workers int) {
	l.logger.Info().
		Str("label", label).
		Str("source_root", sourceRoot).
		Int64("chunk_size", chunkSize).
		Int("workers", workers).
		Msg("backup started")
}

// BackupPreflight logs a dry-run plan summary computed before any chunk is
// written.
func (l *Logger) BackupPreflight(fileCount int, byteTotal int64) {
	l.logger.Info().
		Int("file_count", fileCount).
		Int64("byte_total", byteTotal).
		Msg("backup preflight")
}

// ChunkWritten logs a new unique chunk written to the store.
func (l *Logger) ChunkWritten(digestHex string, size int) {
	l.logger.Debug().
		Str("digest", digestHex).
		Int("size", size).
		Msg("chunk written")
}

// FileProcessed logs one file's completion during a backup run.
func (l *Logger) FileProcessed(logicalPath string, size int64, chunkCount int) {
	l.logger.Debug().
		Str("logical_path", logicalPath).
		Int64("size", size).
		Int("chunk_count", chunkCount).
		Msg("file chunked")
}

// BackupCompleted logs a successfully published manifest.
func (l *Logger) BackupCompleted(manifestID string, fileCount int, byteTotal int64, duration time.Duration) {
	l.logger.Info().
		Str("manifest_id", manifestID).
		Int("file_count", fileCount).
		Int64("byte_total", byteTotal).
		Float64("duration_seconds", duration.Seconds()).
		Msg("backup completed and manifest published")
}

// BackupFailed logs a backup run that aborted without publishing.
func (l *Logger) BackupFailed(label string, err error) {
	l.logger.Error().
		Str("label", label).
		Err(err).
		Msg("backup aborted, no manifest published")
}

// RestorePlanBuilt logs a completed plan phase.
func (l *Logger) RestorePlanBuilt(manifestID string, create, overwrite, rename, skip, missing int) {
	l.logger.Info().
		Str("manifest_id", manifestID).
		Int("create", create).
		Int("overwrite", overwrite).
		Int("rename", rename).
		Int("skip", skip).
		Int("missing_chunk", missing).
		Msg("restore plan built")
}

// RestoreFileFailed logs one file's restore failure without aborting the run.
func (l *Logger) RestoreFileFailed(logicalPath string, err error) {
	l.logger.Error().
		Str("logical_path", logicalPath).
		Err(err).
		Msg("restore failed for file")
}

// RestoreCompleted logs an executed restore plan's tallies.
func (l *Logger) RestoreCompleted(manifestID string, written, skipped, failed int) {
	l.logger.Info().
		Str("manifest_id", manifestID).
		Int("written", written).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("restore completed")
}

// OrphansDetected logs an orphan detection report summary.
func (l *Logger) OrphansDetected(count int, totalSize int64) {
	l.logger.Info().
		Int("count", count).
		Int64("total_size", totalSize).
		Msg("orphan detection completed")
}

// OrphansCleaned logs an orphan cleanup result.
func (l *Logger) OrphansCleaned(removed int, bytesFreed int64, errorCount int) {
	l.logger.Info().
		Int("chunks_removed", removed).
		Int64("bytes_freed", bytesFreed).
		Int("errors", errorCount).
		Msg("orphan cleanup completed")
}

// SnapshotValidated logs a snapshot validation result.
func (l *Logger) SnapshotValidated(manifestID string, filesOK, filesBad int) {
	l.logger.Info().
		Str("manifest_id", manifestID).
		Int("files_ok", filesOK).
		Int("files_bad", filesBad).
		Msg("snapshot validation completed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
