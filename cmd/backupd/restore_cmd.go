package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/config"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/logging"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/metrics"
	"github.com/vaultkeep/backupd/internal/restore"
)

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	manifestID := fs.String("manifest", "", "manifest id to restore (required unless -latest)")
	latest := fs.Bool("latest", false, "restore the most recently created manifest")
	target := fs.String("target", "", "target directory (required)")
	storeRoot := fs.String("store", "", "chunk/manifest store root (overrides config)")
	conflict := fs.String("conflict", "skip", "conflict policy: skip|overwrite|rename")
	mappingsPath := fs.String("mappings", "", "path to an old=new path mapping file")
	preservePerms := fs.Bool("preserve-permissions", true, "restore POSIX permission bits")
	verify := fs.Bool("verify", true, "verify per-file integrity during restore")
	maxRename := fs.Int("max-rename-attempts", 1000, "bounded attempts for the Rename conflict policy")
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		fs.Usage()
		return fmt.Errorf("restore: -target is required")
	}
	if *manifestID == "" && !*latest {
		fs.Usage()
		return fmt.Errorf("restore: one of -manifest or -latest is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	root := *storeRoot
	if root == "" {
		root = cfg.StoreRoot
	}
	// Flags left unset take their defaults from the config file.
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if !explicit["preserve-permissions"] {
		*preservePerms = cfg.PreservePermissions
	}
	if !explicit["verify"] {
		*verify = cfg.VerifyIntegrity
	}

	chunks, err := chunkstore.Open(root)
	if err != nil {
		return err
	}
	manifests, err := manifest.Open(root)
	if err != nil {
		return err
	}

	id := *manifestID
	if *latest {
		m, err := manifests.Latest()
		if err != nil {
			return err
		}
		if m == nil {
			return errs.New(errs.KindNotFound, "restore.runRestore", "no manifests in store")
		}
		id = m.ID
	}

	policy, err := parseConflictPolicy(*conflict)
	if err != nil {
		return err
	}

	var mappings restore.PathMappings
	if *mappingsPath != "" {
		b, err := os.ReadFile(*mappingsPath)
		if err != nil {
			return errs.Wrap(errs.KindIO, "restore.runRestore", "read mappings file", err).WithKey(*mappingsPath)
		}
		mappings, err = restore.ParsePathMappings(string(b))
		if err != nil {
			return err
		}
	}

	opts := restore.Options{
		TargetRoot:          *target,
		ConflictPolicy:      policy,
		PathMappings:        mappings,
		PreservePermissions: *preservePerms,
		VerifyIntegrity:     *verify,
		MaxRenameAttempts:   *maxRename,
	}

	log := logging.NewLogger("backupd", "1", os.Stderr)
	metricsReg := metrics.NewMetrics()

	plan, err := restore.BuildPlan(chunks, manifests, id, opts)
	if err != nil {
		return err
	}
	log.RestorePlanBuilt(id,
		plan.Summary.Counts[restore.ActionCreate],
		plan.Summary.Counts[restore.ActionOverwrite],
		plan.Summary.Counts[restore.ActionRename],
		plan.Summary.Counts[restore.ActionSkip],
		plan.Summary.Counts[restore.ActionMissingChunk],
	)

	start := time.Now()
	result, err := restore.Execute(chunks, plan, opts)
	duration := time.Since(start)
	if err != nil {
		metricsReg.RecordRestore(false, duration.Seconds(), 0, 0, 0)
		return err
	}

	for _, outcome := range result.Outcomes {
		if outcome.Err != nil {
			log.RestoreFileFailed(outcome.LogicalPath, outcome.Err)
		}
		if errs.Is(outcome.Err, errs.KindIntegrity) {
			metricsReg.RecordIntegrityFailure()
		}
	}
	log.RestoreCompleted(id, result.Written, result.Skipped, result.Failed)
	metricsReg.RecordRestore(result.Failed == 0, duration.Seconds(), result.Written, result.Skipped, result.Failed)

	fmt.Printf("restore %s: %d written, %d skipped, %d failed\n", id, result.Written, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("restore %s: %w (%d files failed)", id, errPartial, result.Failed)
	}
	return nil
}

func parseConflictPolicy(s string) (restore.ConflictPolicy, error) {
	switch s {
	case "skip":
		return restore.Skip, nil
	case "overwrite":
		return restore.Overwrite, nil
	case "rename":
		return restore.Rename, nil
	default:
		return 0, errs.New(errs.KindConfig, "restore.parseConflictPolicy", "unknown conflict policy "+s)
	}
}
