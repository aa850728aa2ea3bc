// Command backupd is the host-process wrapper around the backup, restore,
// and recovery engines: argument parsing, process exit codes, and operator
// confirmation prompts live here; none of it is reused by the core packages.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vaultkeep/backupd/internal/errs"
)

// Exit codes, per the distinct-code requirement for success/partial/fatal
// I/O/invalid manifest/cancelled outcomes.
const (
	exitSuccess         = 0
	exitPartial         = 1
	exitFatalIO         = 2
	exitInvalidManifest = 3
	exitCancelled       = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitFatalIO
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "backup":
		err = runBackup(rest)
	case "restore":
		err = runRestore(rest)
	case "recover":
		err = runRecover(rest)
	case "schedule":
		err = runSchedule(rest)
	case "-h", "--help", "help":
		printUsage()
		return exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "backupd: unknown command %q\n\n", cmd)
		printUsage()
		return exitFatalIO
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "backupd:", err)
	}
	return exitCodeFor(err)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: backupd <command> [arguments]

Commands:
  backup     run a backup of a source directory
  restore    restore a manifest to a target directory
  recover    orphan detection/cleanup, snapshot validation, salvage
  schedule   manage schedule records

Run "backupd <command> -h" for command-specific flags.`)
}

// exitCodeFor maps an engine error's errs.Kind onto a process exit code. A
// nil error is success; errors that aren't *errs.E (e.g. flag parsing)
// count as fatal I/O since they never reached engine logic.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, errPartial) {
		return exitPartial
	}
	switch errs.KindOf(err) {
	case errs.KindCancelled:
		return exitCancelled
	case errs.KindInvalidManifest:
		return exitInvalidManifest
	default:
		return exitFatalIO
	}
}

// errPartial marks a run that completed but left some files un-restored or
// un-backed-up; commands return this (wrapped with context) instead of nil
// so main can tell "ran to completion with partial results" apart from
// "failed outright".
var errPartial = errors.New("completed with partial failures")
