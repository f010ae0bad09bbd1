package options

import (
	"fmt"
)

var (
	// AgentLabelSelectorKey and AgentLabelSelectorValue identify the privileged
	// helper pods that run one per node.
	AgentLabelSelectorKey    = "app"
	AgentLabelSelectorValue  = "gcore-agent"
	AgentLabelSelectorString = fmt.Sprintf("%v=%v", AgentLabelSelectorKey, AgentLabelSelectorValue)

	// RemoteDir is the agent's scratch location for snapshots.
	RemoteDir = "/tmp"
	// SnapshotPrefix is the file prefix gcore writes; gcore appends ".<pid>".
	SnapshotPrefix = "core"
	// CompressedSuffix is appended by gzip.
	CompressedSuffix = ".gz"

	// Build-time locations of the images we capture from.
	BuildSourceRoot  = "/app"
	BuildModuleCache = "/go/pkg/mod"

	LeaseNamePrefix      = "kubegcore-"
	LeaseDurationSeconds = 600

	// CLI-side names
	ConfigDirName  = ".kubegcore"
	ConfigFileName = "config.yaml"
	EnvPrefix      = "KUBEGCORE"

	// DebuggerType and SnapshotMode are the launch configuration values for a Go core file.
	DebuggerType = "go"
	SnapshotMode = "core"
)

// LeaseName is the name of the node lease guarding an agent's RemoteDir.
func LeaseName(nodeName string) string {
	return LeaseNamePrefix + nodeName
}
