package utils

import (
	"strings"
)

// ParseCmdline splits the contents of /proc/<pid>/cmdline into its arguments.
// Arguments are NUL-terminated; a trailing newline from the transport is ignored.
func ParseCmdline(raw string) []string {
	raw = strings.TrimRight(raw, "\n")
	raw = strings.TrimRight(raw, "\x00")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if !strings.Contains(raw, "\x00") {
		// some kernels report a rewritten argv as a single space separated string
		return strings.Fields(raw)
	}
	return strings.Split(raw, "\x00")
}
