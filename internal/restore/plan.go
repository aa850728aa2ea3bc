// Package restore implements the Restore Engine: a pure plan phase that
// classifies each manifest file into a restore action under a conflict
// policy, and an execute phase that carries out a plan, collecting
// per-file errors without aborting the run.
package restore

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/validation"
)

// ConflictPolicy governs how an existing target file is handled.
type ConflictPolicy int

const (
	Skip ConflictPolicy = iota
	Overwrite
	Rename
)

// ActionKind classifies what the execute phase will do for one file.
type ActionKind int

const (
	ActionCreate ActionKind = iota
	ActionOverwrite
	ActionRename
	ActionSkip
	ActionMissingChunk
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionOverwrite:
		return "overwrite"
	case ActionRename:
		return "rename"
	case ActionSkip:
		return "skip"
	case ActionMissingChunk:
		return "missing_chunk"
	default:
		return "unknown"
	}
}

// Action is one file's restore plan entry.
type Action struct {
	File          manifest.FileRecord
	Kind          ActionKind
	TargetPath    string   // destination path: TargetRoot joined with the mapped logical path
	RenamedPath   string   // set only for ActionRename
	MissingDigest []string // set only for ActionMissingChunk: hex digests absent from the store
}

// Summary tallies plan actions.
type Summary struct {
	Counts    map[ActionKind]int
	TotalSize int64
}

// Plan is pure data describing what a restore run would do. It may be
// inspected, logged, or serialized before Execute runs it — a dry run is
// simply building a Plan and never calling Execute.
type Plan struct {
	ManifestID string
	TargetRoot string
	Actions    []Action
	Summary    Summary
}

// Options configures plan construction.
type Options struct {
	TargetRoot          string
	ConflictPolicy      ConflictPolicy
	PathMappings        PathMappings
	PreservePermissions bool
	VerifyIntegrity     bool
	MaxRenameAttempts   int // defaults to 1000
}

// BuildPlan loads the manifest with id and classifies every file record
// into exactly one action, per spec §4.4.
func BuildPlan(chunks *chunkstore.Store, manifests *manifest.Store, id string, opts Options) (*Plan, error) {
	// mustExist=false: a restore target root is commonly created fresh.
	if err := validation.ValidateFilePath(opts.TargetRoot, false); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "restore.BuildPlan", "target root", err)
	}

	m, err := manifests.Load(id)
	if err != nil {
		return nil, err
	}

	maxAttempts := opts.MaxRenameAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1000
	}
	if err := validation.ValidateRangeInt(maxAttempts, 1, 1000); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "restore.BuildPlan", "max rename attempts", err)
	}

	plan := &Plan{
		ManifestID: id,
		TargetRoot: opts.TargetRoot,
		Summary:    Summary{Counts: make(map[ActionKind]int)},
	}

	for _, f := range m.Files {
		target := targetPath(opts.TargetRoot, f.LogicalPath, opts.PathMappings)

		var missing []string
		for _, d := range f.Chunks {
			if !chunks.Has(d) {
				missing = append(missing, d.String())
			}
		}

		var action Action
		switch {
		case len(missing) > 0:
			action = Action{File: f, Kind: ActionMissingChunk, TargetPath: target, MissingDigest: missing}
		default:
			if _, statErr := os.Stat(target); statErr == nil {
				switch opts.ConflictPolicy {
				case Skip:
					action = Action{File: f, Kind: ActionSkip, TargetPath: target}
				case Overwrite:
					action = Action{File: f, Kind: ActionOverwrite, TargetPath: target}
				case Rename:
					renamed, err := probeRenameTarget(target, maxAttempts)
					if err != nil {
						return nil, err
					}
					action = Action{File: f, Kind: ActionRename, TargetPath: target, RenamedPath: renamed}
				default:
					return nil, errs.New(errs.KindConfig, "restore.BuildPlan", "unknown conflict policy")
				}
			} else {
				action = Action{File: f, Kind: ActionCreate, TargetPath: target}
			}
		}

		plan.Actions = append(plan.Actions, action)
		plan.Summary.Counts[action.Kind]++
		plan.Summary.TotalSize += f.Size
	}

	return plan, nil
}

// targetPath applies the longest-prefix-match path mapping to logicalPath,
// then joins the result against targetRoot.
func targetPath(targetRoot, logicalPath string, mappings PathMappings) string {
	mapped := mappings.Apply(logicalPath)
	return filepath.Join(targetRoot, filepath.FromSlash(mapped))
}

// probeRenameTarget finds a non-existent sibling path by inserting an
// incrementing integer before the extension, bounded by maxAttempts.
func probeRenameTarget(target string, maxAttempts int) (string, error) {
	dir := filepath.Dir(target)
	base := filepath.Base(target)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 1; i <= maxAttempts; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", errs.New(errs.KindConflict, "restore.probeRenameTarget",
		fmt.Sprintf("exhausted %d rename attempts", maxAttempts)).WithKey(target)
}

// PathMappings is an unordered set of old→new logical-path-prefix rules,
// applied by longest-prefix match.
type PathMappings map[string]string

// Apply rewrites logicalPath by replacing its longest matching configured
// prefix, or returns it unchanged if no rule matches.
func (pm PathMappings) Apply(logicalPath string) string {
	if len(pm) == 0 {
		return logicalPath
	}
	var bestOld string
	for old := range pm {
		if !strings.HasPrefix(logicalPath, old) {
			continue
		}
		if len(old) > len(bestOld) {
			bestOld = old
		}
	}
	if bestOld == "" {
		return logicalPath
	}
	return path.Join(pm[bestOld], strings.TrimPrefix(logicalPath, bestOld))
}

// ParsePathMappings parses the simple key/value text format spec §6
// describes: one "old=new" pair per non-empty, non-comment line.
func ParsePathMappings(text string) (PathMappings, error) {
	pm := make(PathMappings)
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, errs.New(errs.KindPathMapping, "restore.ParsePathMappings",
				fmt.Sprintf("line %d: expected old=new", lineNo+1)).WithKey(line)
		}
		pm[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return pm, nil
}

// SortedActions returns plan's actions sorted by logical path, for
// deterministic reporting.
func (p *Plan) SortedActions() []Action {
	out := append([]Action(nil), p.Actions...)
	sort.Slice(out, func(i, j int) bool { return out[i].File.LogicalPath < out[j].File.LogicalPath })
	return out
}
