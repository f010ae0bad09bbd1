package platforms

import (
	"bytes"
	"context"
	"io"
	"strings"
)

/// Minimal representation of the pieces of a cluster kubegcore cares about.

// CaptureRequest is what the operator asked for.
type CaptureRequest struct {
	InstanceName string
	Namespace    string
}

// Placement is where the instance runs.
type Placement struct {
	Namespace     string
	PodName       string
	NodeName      string
	ContainerName string
	// ContainerRuntimeID is the runtime id without its scheme (e.g. "containerd://").
	ContainerRuntimeID string
	Runtime            string
}

// AgentHandle identifies the helper agent pod on the instance's node.
type AgentHandle struct {
	Namespace     string
	PodName       string
	ContainerName string
	NodeName      string
}

// Pod returns the exec target for the agent.
func (a AgentHandle) Pod() PodRef {
	return PodRef{Namespace: a.Namespace, Name: a.PodName, Container: a.ContainerName}
}

// ProcessDescriptor is the instance's process as seen from the host.
type ProcessDescriptor struct {
	HostPID        int
	ExecutablePath string
	Cmdline        []string
}

// PodRef addresses a single container for exec.
type PodRef struct {
	Namespace string
	Name      string
	Container string
}

/// Runs on the operator's machine:

// TargetResolver maps an instance name to its node placement.
type TargetResolver interface {
	Resolve(ctx context.Context, req CaptureRequest) (*Placement, error)
}

// AgentLocator finds the helper agent scheduled on a node.
type AgentLocator interface {
	Locate(ctx context.Context, nodeName string) (*AgentHandle, error)
}

// ProcessDescriber asks the agent for the host pid and executable of a container.
// The pid must be in the host pid namespace, not in the container's.
type ProcessDescriber interface {
	DescribeProcess(ctx context.Context, placement *Placement, agent *AgentHandle) (*ProcessDescriptor, error)
}

// Executor runs a command in a container and streams its stdout.
// A non-zero exit is reported as an *ExecError.
type Executor interface {
	Exec(ctx context.Context, pod PodRef, cmd []string, stdout io.Writer) error
}

// Output runs cmd and returns its stdout.
func Output(ctx context.Context, e Executor, pod PodRef, cmd ...string) (string, error) {
	var buf bytes.Buffer
	if err := e.Exec(ctx, pod, cmd, &buf); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

// ExecError carries the remote side's stderr so it can be shown to the operator as is.
type ExecError struct {
	Command []string
	Stderr  string
	Err     error
}

func (e *ExecError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "command failed: " + strings.Join(e.Command, " ")
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
