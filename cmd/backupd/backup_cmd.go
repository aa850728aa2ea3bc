package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vaultkeep/backupd/internal/backup"
	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/config"
	"github.com/vaultkeep/backupd/internal/logging"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/manifestindex"
	"github.com/vaultkeep/backupd/internal/metrics"
)

func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	source := fs.String("source", "", "directory to back up (required)")
	label := fs.String("label", "", "human-readable label for this snapshot (required)")
	storeRoot := fs.String("store", "", "chunk/manifest store root (overrides config)")
	chunkSize := fs.Int64("chunk-size", 0, "chunk size in bytes (0 = use config default)")
	workers := fs.Int("workers", 0, "worker count (0 = use config default)")
	dryRun := fs.Bool("dry-run", false, "print file/byte counts and exit without writing any chunks")
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" || *label == "" {
		fs.Usage()
		return fmt.Errorf("backup: -source and -label are required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	root := *storeRoot
	if root == "" {
		root = cfg.StoreRoot
	}

	chunks, err := chunkstore.Open(root)
	if err != nil {
		return err
	}
	manifests, err := manifest.Open(root)
	if err != nil {
		return err
	}
	index, err := manifestindex.Open(filepath.Join(root, "index.db"))
	if err != nil {
		return err
	}
	defer index.Close()

	log := logging.NewLogger("backupd", "1", os.Stderr)
	metricsReg := metrics.NewMetrics()

	engine := backup.New(chunks, manifests)
	engine.Index = index

	opts := backup.Options{
		Label:      *label,
		SourceRoot: *source,
		ChunkSize:  *chunkSize,
		Workers:    *workers,
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = cfg.ChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = cfg.Workers
	}

	src := backup.FSSource{Root: *source}

	preflight, err := backup.Preflight(src)
	if err != nil {
		return err
	}
	log.BackupPreflight(preflight.FileCount, preflight.ByteTotal)
	if *dryRun {
		fmt.Printf("dry run: %d files, %d bytes\n", preflight.FileCount, preflight.ByteTotal)
		return nil
	}

	log.BackupStarted(opts.Label, opts.SourceRoot, opts.ChunkSize, opts.Workers)
	start := time.Now()

	m, err := engine.Run(context.Background(), src, opts)
	duration := time.Since(start)
	if err != nil {
		log.BackupFailed(opts.Label, err)
		metricsReg.RecordBackup(false, duration.Seconds(), 0)
		return err
	}

	stats := m.ComputeStats()
	log.BackupCompleted(m.ID, stats.FileCount, stats.ByteTotal, duration)
	metricsReg.RecordBackup(true, duration.Seconds(), stats.FileCount)

	fmt.Printf("manifest %s: %d files, %d bytes, %d unique chunks\n", m.ID, stats.FileCount, stats.ByteTotal, stats.UniqueChunks)
	return nil
}
