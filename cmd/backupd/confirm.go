package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// confirm prompts the operator to type "yes" before a destructive action
// (orphan cleanup). It reads without echoing the keystrokes back to the
// terminal when stdin is a real TTY, matching the posture of a
// confirmation gate that shouldn't leave the typed word sitting in scrollback;
// it falls back to a plain line read for piped/non-interactive input.
func confirm(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt+" (type \"yes\" to confirm): ")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(string(b)) == "yes", nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	return strings.TrimSpace(scanner.Text()) == "yes", nil
}
