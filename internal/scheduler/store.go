package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/fsutil"
)

// scheduleJSON is the on-disk shape of a Schedule. Pattern is flattened
// into optional fields rather than a tagged union, matching manifest.go's
// preference for plain structs over interface{}-typed JSON.
type scheduleJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Command     string `json:"command"`
	CreatedAt   string `json:"created_at"`
	PatternKind string `json:"pattern_kind"`
	Time        string `json:"time,omitempty"`
	Days        []int  `json:"days,omitempty"`
	Expression  string `json:"expression,omitempty"`
	At          string `json:"at,omitempty"`
}

// Store is the durable, file-backed schedule catalog rooted at a directory
// (typically <config>/schedules). One schedule is one file: <id>.json,
// written via temp-then-rename, mirroring manifest.Store's discipline.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "scheduler.Open", "create schedules directory", err).WithKey(dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// SweepStaleTemp removes abandoned .tmp-* files, mirroring
// manifest.Store.SweepStaleTemp.
func (s *Store) SweepStaleTemp(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindIO, "scheduler.SweepStaleTemp", "read schedules directory", err).WithKey(s.dir)
	}
	for _, ent := range entries {
		if ent.IsDir() || !fsutil.IsTempName(ent.Name()) {
			continue
		}
		info, err := ent.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, ent.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func toJSON(s *Schedule) scheduleJSON {
	j := scheduleJSON{
		ID:          s.ID,
		Name:        s.Name,
		Enabled:     s.Enabled,
		Command:     s.Command,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
		PatternKind: s.Pattern.Kind.String(),
	}
	switch s.Pattern.Kind {
	case PatternDaily:
		j.Time = s.Pattern.Time
	case PatternWeekly:
		j.Time = s.Pattern.Time
		for _, d := range s.Pattern.Days {
			j.Days = append(j.Days, int(d))
		}
	case PatternCron:
		j.Expression = s.Pattern.Expression
	case PatternOnce:
		j.At = s.Pattern.At.UTC().Format(time.RFC3339)
	}
	return j
}

func fromJSON(j scheduleJSON) (*Schedule, error) {
	createdAt, err := time.Parse(time.RFC3339, j.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidManifest, "scheduler.fromJSON", "parse created_at", err).WithKey(j.ID)
	}

	var kind PatternKind
	switch j.PatternKind {
	case "daily":
		kind = PatternDaily
	case "weekly":
		kind = PatternWeekly
	case "cron":
		kind = PatternCron
	case "once":
		kind = PatternOnce
	default:
		return nil, errs.New(errs.KindInvalidManifest, "scheduler.fromJSON", "unknown pattern_kind "+j.PatternKind).WithKey(j.ID)
	}

	pattern := Pattern{Kind: kind, Time: j.Time, Expression: j.Expression}
	for _, d := range j.Days {
		pattern.Days = append(pattern.Days, time.Weekday(d))
	}
	if j.At != "" {
		at, err := time.Parse(time.RFC3339, j.At)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidManifest, "scheduler.fromJSON", "parse at", err).WithKey(j.ID)
		}
		pattern.At = at
	}

	return &Schedule{
		ID:        j.ID,
		Name:      j.Name,
		Enabled:   j.Enabled,
		Pattern:   pattern,
		Command:   j.Command,
		CreatedAt: createdAt,
	}, nil
}

// Save serializes sch to JSON and publishes it atomically.
func (s *Store) Save(sch *Schedule) error {
	if err := sch.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(toJSON(sch), "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindIO, "scheduler.Save", "marshal schedule", err).WithKey(sch.ID)
	}
	if err := fsutil.WriteAtomic(s.pathFor(sch.ID), b, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "scheduler.Save", "write schedule", err).WithKey(sch.ID)
	}
	return nil
}

// Load reads and parses the schedule with the given id.
func (s *Store) Load(id string) (*Schedule, error) {
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, "scheduler.Load", "schedule not found").WithKey(id)
		}
		return nil, errs.Wrap(errs.KindIO, "scheduler.Load", "read schedule", err).WithKey(id)
	}
	var j scheduleJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, errs.Wrap(errs.KindInvalidManifest, "scheduler.Load", "parse schedule JSON", err).WithKey(id)
	}
	return fromJSON(j)
}

// List enumerates schedule ids present in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, "scheduler.List", "read schedules directory", err).WithKey(s.dir)
	}
	var ids []string
	for _, ent := range entries {
		if ent.IsDir() || fsutil.IsTempName(ent.Name()) {
			continue
		}
		name := ent.Name()
		const suffix = ".json"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		ids = append(ids, name[:len(name)-len(suffix)])
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the schedule file for id. Idempotent.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "scheduler.Delete", "remove schedule", err).WithKey(id)
	}
	return nil
}
