// Package system provides the small amount of /proc introspection the
// PID-reuse guard (spec.md §3 invariant 1, §4.7 "tie-breaks") needs:
// reading field 22 (starttime) of /proc/<pid>/stat.
//
// This stays on the standard library rather than a third-party /proc
// parser: none of the libraries wired elsewhere in this module (console,
// mountinfo, go-units, securejoin, fileutils, mapset, bitset) parse
// /proc/<pid>/stat, and pulling in a whole-proc-filesystem library
// (e.g. gopsutil) for one space-separated integer field would be a much
// larger dependency than the five lines of stdlib parsing below.
package system

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Stat is the subset of /proc/<pid>/stat this module needs.
type Stat struct {
	PID       int
	Comm      string
	State     byte
	StartTime uint64
}

// StatPID reads and parses /proc/<pid>/stat.
//
// Field 2 (comm) may contain spaces and parentheses, so we locate it by
// the last ')' rather than naive whitespace splitting, matching how
// libcontainer's own system.Stat (the function our teacher calls from
// startTime()) is implemented upstream.
func StatPID(pid int) (Stat, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return Stat{}, err
	}
	return parseStat(string(data))
}

func parseStat(line string) (Stat, error) {
	line = strings.TrimRight(line, "\n")

	openParen := strings.IndexByte(line, '(')
	closeParen := strings.LastIndexByte(line, ')')
	if openParen < 0 || closeParen < 0 || closeParen < openParen {
		return Stat{}, fmt.Errorf("malformed /proc/<pid>/stat line: %q", line)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(line[:openParen]))
	if err != nil {
		return Stat{}, fmt.Errorf("parsing pid field: %w", err)
	}
	comm := line[openParen+1 : closeParen]

	rest := strings.Fields(line[closeParen+1:])
	// rest[0] = state (field 3), ... rest[19] = starttime (field 22):
	// field indices after comm are 1-based starting at field 3.
	const startTimeFieldOffset = 22 - 3
	if len(rest) <= startTimeFieldOffset {
		return Stat{}, fmt.Errorf("short /proc/<pid>/stat line: %q", line)
	}

	startTime, err := strconv.ParseUint(rest[startTimeFieldOffset], 10, 64)
	if err != nil {
		return Stat{}, fmt.Errorf("parsing starttime field: %w", err)
	}

	var state byte
	if len(rest[0]) > 0 {
		state = rest[0][0]
	}

	return Stat{
		PID:       pid,
		Comm:      comm,
		State:     state,
		StartTime: startTime,
	}, nil
}

// Alive reports whether pid is a live process and, if so, whether its
// starttime still matches expected — the PID-reuse guard from
// spec.md §3 invariant 1 and §4.7.
func Alive(pid int, expectedStartTime uint64) bool {
	if pid <= 0 {
		return false
	}
	st, err := StatPID(pid)
	if err != nil {
		return false
	}
	return st.StartTime == expectedStartTime
}
