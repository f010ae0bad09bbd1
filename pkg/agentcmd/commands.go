// Package agentcmd builds the command lines run inside the gcore agent pod.
// The agent runs with hostPID and privileged, so /proc is the host's process
// table and nsenter into pid 1 reaches the node's container runtime.
package agentcmd

import (
	"fmt"
	"path"
	"strings"

	"github.com/solo-io/kubegcore/pkg/options"
)

var hostNamespaces = []string{"nsenter", "-t", "1", "-m", "-u", "-i", "-n", "-p", "--"}

// HostPID prints the host pid of a container's init process.
func HostPID(containerID string) []string {
	return append(append([]string{}, hostNamespaces...),
		"crictl", "inspect", "--output", "go-template", "--template", "{{.info.pid}}", containerID)
}

// Cmdline prints the NUL-separated argument vector of pid.
func Cmdline(pid int) []string {
	return []string{"cat", fmt.Sprintf("/proc/%d/cmdline", pid)}
}

// ExePath is the agent-side path to the running executable of pid.
func ExePath(pid int) string {
	return fmt.Sprintf("/proc/%d/exe", pid)
}

// SnapshotGlob matches every snapshot kubegcore ever left in dir, compressed or not.
func SnapshotGlob(dir string) string {
	return path.Join(dir, options.SnapshotPrefix+".*")
}

// SnapshotPath is where gcore writes the dump of pid.
func SnapshotPath(dir string, pid int) string {
	return fmt.Sprintf("%s.%d", path.Join(dir, options.SnapshotPrefix), pid)
}

func CompressedPath(snapshot string) string {
	return snapshot + options.CompressedSuffix
}

// Clean removes all snapshots in dir; it succeeds when there is nothing to remove.
// Only the file name part of the pattern is left to the shell.
func Clean(dir string) []string {
	return []string{"sh", "-c", "rm -f " + shellQuote(path.Clean(dir)) + "/" + options.SnapshotPrefix + ".*"}
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

// Gcore dumps pid to SnapshotPath(dir, pid).
func Gcore(dir string, pid int) []string {
	return []string{"gcore", "-o", path.Join(dir, options.SnapshotPrefix), fmt.Sprint(pid)}
}

// Compress gzips the file in place, replacing it with CompressedPath(file).
func Compress(file string) []string {
	return []string{"gzip", "-f", "-1", file}
}

// Size prints the size in bytes of file, following symlinks.
func Size(file string) []string {
	return []string{"stat", "-L", "-c", "%s", file}
}

// Cat streams file to stdout.
func Cat(file string) []string {
	return []string{"cat", file}
}
