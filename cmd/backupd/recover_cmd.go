package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vaultkeep/backupd/internal/chunkcache"
	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/config"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/logging"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/metrics"
	"github.com/vaultkeep/backupd/internal/recovery"
)

func runRecover(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("recover: expected a subcommand (orphans, validate, salvage, sweep-temp)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "orphans":
		return runRecoverOrphans(rest)
	case "validate":
		return runRecoverValidate(rest)
	case "salvage":
		return runRecoverSalvage(rest)
	case "sweep-temp":
		return runRecoverSweepTemp(rest)
	default:
		return fmt.Errorf("recover: unknown subcommand %q", sub)
	}
}

func openEngine(storeRoot, configPath string, withCache bool) (*recovery.Engine, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	root := storeRoot
	if root == "" {
		root = cfg.StoreRoot
	}
	chunks, err := chunkstore.Open(root)
	if err != nil {
		return nil, nil, err
	}
	manifests, err := manifest.Open(root)
	if err != nil {
		return nil, nil, err
	}
	engine := recovery.New(chunks, manifests)
	if withCache {
		cache, err := chunkcache.Open(root)
		if err != nil {
			return nil, nil, err
		}
		engine.Cache = cache
	}
	return engine, cfg, nil
}

func runRecoverOrphans(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("recover orphans: expected \"detect\" or \"clean\"")
	}
	action, rest := args[0], args[1:]

	fs := flag.NewFlagSet("recover orphans", flag.ContinueOnError)
	storeRoot := fs.String("store", "", "chunk/manifest store root (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	cached := fs.Bool("cached", false, "use the chunk cache as a fast path when fresh")
	maxCacheAge := fs.Duration("max-cache-age", time.Hour, "freshness window for -cached")
	yes := fs.Bool("yes", false, "skip the confirmation prompt (clean only)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	engine, _, err := openEngine(*storeRoot, *configPath, *cached)
	if err != nil {
		return err
	}
	if engine.Cache != nil {
		defer engine.Cache.Close()
	}

	log := logging.NewLogger("backupd", "1", os.Stderr)
	metricsReg := metrics.NewMetrics()

	var report *recovery.OrphanReport
	if *cached {
		report, err = engine.DetectOrphansCached(*maxCacheAge)
	} else {
		report, err = engine.DetectOrphans()
	}
	if err != nil {
		return err
	}
	log.OrphansDetected(report.Count, report.TotalSize)
	metricsReg.RecordOrphanScan(report.Count)

	switch action {
	case "detect":
		fmt.Printf("%d orphan chunks, %d bytes total\n", report.Count, report.TotalSize)
		for bucket, n := range report.ByBucket {
			fmt.Printf("  %-10s %d\n", bucket, n)
		}
		return nil
	case "clean":
		if report.Count == 0 {
			fmt.Println("no orphan chunks found")
			return nil
		}
		confirmed := *yes
		if !confirmed {
			ok, err := confirm(fmt.Sprintf("delete %d orphan chunks (%d bytes)?", report.Count, report.TotalSize))
			if err != nil {
				return err
			}
			confirmed = ok
		}
		if !confirmed {
			return errs.New(errs.KindCancelled, "recover.orphans.clean", "orphan cleanup cancelled by operator")
		}
		result, err := engine.CleanupOrphans(report, true)
		if err != nil {
			return err
		}
		log.OrphansCleaned(result.ChunksRemoved, result.BytesFreed, len(result.Errors))
		metricsReg.RecordOrphanCleanup(result.BytesFreed)
		fmt.Printf("removed %d chunks, freed %d bytes, %d errors\n", result.ChunksRemoved, result.BytesFreed, len(result.Errors))
		if len(result.Errors) > 0 {
			return fmt.Errorf("recover orphans clean: %w (%d chunks failed to delete)", errPartial, len(result.Errors))
		}
		return nil
	default:
		return fmt.Errorf("recover orphans: unknown action %q", action)
	}
}

func runRecoverValidate(args []string) error {
	fs := flag.NewFlagSet("recover validate", flag.ContinueOnError)
	storeRoot := fs.String("store", "", "chunk/manifest store root (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	deep := fs.Bool("deep", false, "also refetch and rehash every chunk against file_root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("recover validate: expected a manifest id")
	}
	id := fs.Arg(0)

	engine, cfg, err := openEngine(*storeRoot, *configPath, false)
	if err != nil {
		return err
	}

	log := logging.NewLogger("backupd", "1", os.Stderr)

	result, err := engine.ValidateSnapshot(id, *deep)
	if err != nil {
		return err
	}
	log.SnapshotValidated(id, result.FilesOK, result.FilesBad)

	fmt.Printf("manifest %s: %d ok, %d bad\n", id, result.FilesOK, result.FilesBad)
	for _, e := range result.Errors {
		fmt.Printf("  %s: %s (%s)\n", e.LogicalPath, e.Kind, e.Detail)
	}

	if cfg.SigningKeyPath != "" {
		priv, err := recovery.LoadSigningKey(cfg.SigningKeyPath)
		if err != nil {
			return err
		}
		report := recovery.ReportFrom(result, time.Now().UTC())
		if err := report.Sign(priv); err != nil {
			return err
		}
		fmt.Printf("signed report: status=%s signature=%s\n", report.Status, base64.StdEncoding.EncodeToString(report.Signature))
	}

	if result.FilesBad > 0 {
		return fmt.Errorf("recover validate %s: %w (%d files failed validation)", id, errPartial, result.FilesBad)
	}
	return nil
}

func runRecoverSalvage(args []string) error {
	fs := flag.NewFlagSet("recover salvage", flag.ContinueOnError)
	storeRoot := fs.String("store", "", "chunk/manifest store root (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, _, err := openEngine(*storeRoot, *configPath, false)
	if err != nil {
		return err
	}
	metricsReg := metrics.NewMetrics()

	records, err := engine.Salvage()
	if err != nil {
		return err
	}
	corrupted := 0
	for _, r := range records {
		metricsReg.RecordSalvage(r.Corrupted)
		if r.Corrupted {
			corrupted++
			fmt.Printf("%s: corrupted (%d files recovered heuristically)\n", r.ID, r.FileCount)
			continue
		}
		fmt.Printf("%s: %q, %d files, created %s\n", r.ID, r.Label, r.FileCount, r.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("%d manifests scanned, %d corrupted\n", len(records), corrupted)
	return nil
}

func runRecoverSweepTemp(args []string) error {
	fs := flag.NewFlagSet("recover sweep-temp", flag.ContinueOnError)
	storeRoot := fs.String("store", "", "chunk/manifest store root (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	maxAge := fs.Duration("max-age", 0, "staleness threshold (0 = use config default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, cfg, err := openEngine(*storeRoot, *configPath, false)
	if err != nil {
		return err
	}

	age := *maxAge
	if age <= 0 {
		age = time.Duration(cfg.StaleTempAgeHours) * time.Hour
	}

	removed, err := engine.SweepStaleTemps(age)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d stale temp files older than %s\n", removed, age)
	return nil
}
