package kubernetes

import (
	"context"
	"strconv"
	"strings"

	"github.com/solo-io/go-utils/contextutils"

	"github.com/solo-io/kubegcore/pkg/agentcmd"
	"github.com/solo-io/kubegcore/pkg/platforms"
	"github.com/solo-io/kubegcore/pkg/utils"
)

// ProcessDescriber translates a container into a host process through the agent.
type ProcessDescriber struct {
	executor platforms.Executor
}

func NewProcessDescriber(executor platforms.Executor) *ProcessDescriber {
	return &ProcessDescriber{executor: executor}
}

func (d *ProcessDescriber) DescribeProcess(ctx context.Context, placement *platforms.Placement, agent *platforms.AgentHandle) (*platforms.ProcessDescriptor, error) {
	logger := contextutils.LoggerFrom(ctx)

	pid, err := d.hostPid(ctx, placement, agent)
	if err != nil {
		return nil, err
	}
	logger.Infow("found host pid", "pod", placement.PodName, "container", placement.ContainerName, "pid", pid)

	out, err := platforms.Output(ctx, d.executor, agent.Pod(), agentcmd.Cmdline(pid)...)
	if err != nil {
		return nil, platforms.WrapError(platforms.AgentQueryFailed, placement.PodName, err)
	}
	args := utils.ParseCmdline(out)
	if len(args) == 0 || args[0] == "" {
		return nil, platforms.Errorf(platforms.AgentQueryFailed, "empty command line for pid %d", pid)
	}

	return &platforms.ProcessDescriptor{
		HostPID:        pid,
		ExecutablePath: args[0],
		Cmdline:        args,
	}, nil
}

// hostPid asks the node's container runtime for the container's pid. The
// result picks the process the agent will attach to, so anything but a
// positive integer is rejected.
func (d *ProcessDescriber) hostPid(ctx context.Context, placement *platforms.Placement, agent *platforms.AgentHandle) (int, error) {
	out, err := platforms.Output(ctx, d.executor, agent.Pod(), agentcmd.HostPID(placement.ContainerRuntimeID)...)
	if err != nil {
		return 0, platforms.WrapError(platforms.AgentQueryFailed, placement.ContainerRuntimeID, err)
	}
	raw := strings.TrimSpace(out)
	if raw == "" {
		return 0, platforms.Errorf(platforms.AgentQueryFailed,
			"no pid for container %v; has pod %v exited?", placement.ContainerRuntimeID, placement.PodName)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, platforms.Errorf(platforms.AgentQueryFailed,
			"container runtime returned %q for container %v, expected a pid", raw, placement.ContainerRuntimeID)
	}
	return pid, nil
}
