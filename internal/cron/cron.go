// Package cron manages the user crontab entry that periodically re-invokes
// the scheduler's run action against a home directory.
package cron

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	cronparser "github.com/robfig/cron/v3"
)

// marker tags the lines this package owns inside the user crontab.
const marker = "# vdmsched auto-generated"

// execCommand is swapped out in tests.
var execCommand = exec.Command

// parser handles standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var parser = cronparser.NewParser(
	cronparser.Minute | cronparser.Hour | cronparser.Dom | cronparser.Month | cronparser.Dow)

// Command builds the shell command the crontab entry runs: a cron:run
// against the given home directory with output appended to the log file.
func Command(executable, homeDir, logFile string) string {
	return fmt.Sprintf("%s cron:run --dir %s >> %s 2>&1", executable, homeDir, logFile)
}

// Entry renders a daily crontab line firing at the hour and minute of at.
func Entry(command string, at time.Time) string {
	return fmt.Sprintf("%d %d * * * %s %s on %s",
		at.Minute(), at.Hour(), command, marker, at.Format(time.RFC3339))
}

// StartTime picks the daily fire time for a fresh entry: two minutes from
// now for an instant first run, or just past so the next run lands a day out
// when reinstalled after a cron-triggered run.
func StartTime(now time.Time, instant bool) time.Time {
	if instant {
		return now.Add(2 * time.Minute)
	}
	return now.Add(-time.Minute)
}

// InstallDaily installs the crontab entry, replacing any entry this package
// installed before, and returns the installed line.
func InstallDaily(executable, homeDir, logFile string, at time.Time) (string, error) {
	if runtime.GOOS == "windows" {
		return "", fmt.Errorf("cron: crontab scheduling is not available on windows")
	}
	current, err := readTab()
	if err != nil {
		return "", err
	}
	entry := Entry(Command(executable, homeDir, logFile), at)
	lines := append(withoutOurs(current), entry)
	if err := writeTab(lines); err != nil {
		return "", err
	}
	return entry, nil
}

// Remove deletes the entries this package installed and reports whether any
// were present.
func Remove() (bool, error) {
	current, err := readTab()
	if err != nil {
		return false, err
	}
	kept := withoutOurs(current)
	if len(kept) == len(current) {
		return false, nil
	}
	if err := writeTab(kept); err != nil {
		return false, err
	}
	return true, nil
}

// Installed returns the currently installed entry, or "".
func Installed() (string, error) {
	current, err := readTab()
	if err != nil {
		return "", err
	}
	for _, line := range current {
		if strings.Contains(line, marker) {
			return line, nil
		}
	}
	return "", nil
}

// NextRun parses the schedule of a crontab entry and returns its next fire
// time after now.
func NextRun(entry string, now time.Time) (time.Time, error) {
	fields := strings.Fields(entry)
	if len(fields) < 5 {
		return time.Time{}, fmt.Errorf("cron: malformed entry %q", entry)
	}
	sched, err := parser.Parse(strings.Join(fields[:5], " "))
	if err != nil {
		return time.Time{}, fmt.Errorf("cron: parse entry %q: %w", entry, err)
	}
	return sched.Next(now), nil
}

// readTab lists the user crontab. No crontab at all is not an error.
func readTab() ([]string, error) {
	cmd := execCommand("crontab", "-l")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// crontab -l exits non-zero with "no crontab for <user>".
		if strings.Contains(stderr.String(), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("cron: read crontab: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	var lines []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// writeTab replaces the user crontab with the given lines.
func writeTab(lines []string) error {
	input := strings.Join(lines, "\n")
	if input != "" {
		input += "\n"
	}
	cmd := execCommand("crontab", "-")
	cmd.Stdin = strings.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cron: write crontab: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// withoutOurs filters out the lines this package installed.
func withoutOurs(lines []string) []string {
	var kept []string
	for _, line := range lines {
		if !strings.Contains(line, marker) {
			kept = append(kept, line)
		}
	}
	return kept
}
