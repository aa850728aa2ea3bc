package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vaultkeep/backupd/internal/config"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/scheduler"
)

func runSchedule(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("schedule: expected a subcommand (add, list, remove)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		return runScheduleAdd(rest)
	case "list":
		return runScheduleList(rest)
	case "remove":
		return runScheduleRemove(rest)
	default:
		return fmt.Errorf("schedule: unknown subcommand %q", sub)
	}
}

func openScheduleStore(configPath, dirOverride string) (*scheduler.Store, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	dir := dirOverride
	if dir == "" {
		dir = cfg.SchedulesDir
	}
	return scheduler.Open(dir)
}

func runScheduleAdd(args []string) error {
	fs := flag.NewFlagSet("schedule add", flag.ContinueOnError)
	name := fs.String("name", "", "schedule name (required)")
	command := fs.String("command", "", "command this schedule runs (required)")
	kind := fs.String("kind", "daily", "pattern kind: daily|weekly|cron|once")
	at := fs.String("time", "", "HH:MM, for daily/weekly")
	days := fs.String("days", "", "comma-separated weekdays for weekly, e.g. mon,wed,fri")
	cronExpr := fs.String("cron", "", "raw cron expression, for -kind=cron")
	once := fs.String("once", "", "RFC3339 datetime, for -kind=once")
	dir := fs.String("dir", "", "schedules directory (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *command == "" {
		fs.Usage()
		return fmt.Errorf("schedule add: -name and -command are required")
	}

	var pattern scheduler.Pattern
	switch *kind {
	case "daily":
		pattern = scheduler.Pattern{Kind: scheduler.PatternDaily, Time: *at}
	case "weekly":
		weekdays, err := parseWeekdays(*days)
		if err != nil {
			return err
		}
		pattern = scheduler.Pattern{Kind: scheduler.PatternWeekly, Time: *at, Days: weekdays}
	case "cron":
		pattern = scheduler.Pattern{Kind: scheduler.PatternCron, Expression: *cronExpr}
	case "once":
		t, err := time.Parse(time.RFC3339, *once)
		if err != nil {
			return errs.Wrap(errs.KindConfig, "schedule.add", "parse -once as RFC3339", err).WithKey(*once)
		}
		pattern = scheduler.Pattern{Kind: scheduler.PatternOnce, At: t}
	default:
		return fmt.Errorf("schedule add: unknown -kind %q", *kind)
	}

	store, err := openScheduleStore(*configPath, *dir)
	if err != nil {
		return err
	}

	sch := scheduler.NewSchedule(*name, *command, pattern, time.Now())
	if err := store.Save(sch); err != nil {
		return err
	}

	fmt.Printf("schedule %s created: %q (%s)\n", sch.ID, sch.Name, sch.Pattern.Kind)
	if next, ok := sch.NextRun(time.Now()); ok {
		fmt.Printf("next run: %s\n", next.Format(time.RFC3339))
	} else {
		fmt.Println("next run: cannot be computed from this pattern")
	}
	return nil
}

func runScheduleList(args []string) error {
	fs := flag.NewFlagSet("schedule list", flag.ContinueOnError)
	dir := fs.String("dir", "", "schedules directory (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openScheduleStore(*configPath, *dir)
	if err != nil {
		return err
	}

	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no schedules")
		return nil
	}
	now := time.Now()
	for _, id := range ids {
		sch, err := store.Load(id)
		if err != nil {
			fmt.Printf("%s: %v\n", id, err)
			continue
		}
		status := "enabled"
		if !sch.Enabled {
			status = "disabled"
		}
		line := fmt.Sprintf("%s  %-20s  %-8s  %-7s  %s", sch.ID, sch.Name, sch.Pattern.Kind, status, sch.Command)
		if next, ok := sch.NextRun(now); ok {
			line += "  next=" + next.Format(time.RFC3339)
		}
		fmt.Println(line)
	}
	return nil
}

func runScheduleRemove(args []string) error {
	fs := flag.NewFlagSet("schedule remove", flag.ContinueOnError)
	dir := fs.String("dir", "", "schedules directory (overrides config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("schedule remove: expected a schedule id")
	}
	id := fs.Arg(0)

	store, err := openScheduleStore(*configPath, *dir)
	if err != nil {
		return err
	}
	if err := store.Delete(id); err != nil {
		return err
	}
	fmt.Printf("schedule %s removed\n", id)
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, errs.New(errs.KindConfig, "schedule.parseWeekdays", "weekly pattern requires -days")
	}
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if d, ok := weekdayNames[part]; ok {
			out = append(out, d)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return nil, errs.New(errs.KindConfig, "schedule.parseWeekdays", "unrecognized weekday "+part).WithKey(s)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}
