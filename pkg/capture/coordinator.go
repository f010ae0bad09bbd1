package capture

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/solo-io/go-utils/contextutils"

	"github.com/solo-io/kubegcore/pkg/agentcmd"
	"github.com/solo-io/kubegcore/pkg/options"
	"github.com/solo-io/kubegcore/pkg/platforms"
)

const TimestampLayout = "20060102T150405"

// Channel moves a file from the agent to the local disk.
type Channel interface {
	CopyToLocal(ctx context.Context, remotePath, localPath string) error
	Decompress(src, dst string) error
}

type Artifact struct {
	RemoteSnapshotPath   string
	RemoteCompressedPath string
	LocalSnapshotPath    string
	LocalBinaryPath      string
	CapturedAt           time.Time
}

type Result struct {
	Artifact *Artifact
	Process  *platforms.ProcessDescriptor
	// CleanupErr is set when removing the agent's snapshots after the
	// capture failed. It never replaces the error returned by Run.
	CleanupErr error
}

// Coordinator captures one process through one agent. It assumes it is the
// only user of RemoteDir on the agent for the duration of Run.
type Coordinator struct {
	Agent     platforms.AgentHandle
	Executor  platforms.Executor
	Describer platforms.ProcessDescriber
	Channel   Channel

	RemoteDir string
	OutputDir string
	// Out receives one progress line per stage.
	Out io.Writer
	Now func() time.Time

	state   State
	history []State
}

func (c *Coordinator) State() State {
	return c.state
}

// History lists every state entered, in order, starting with Idle.
func (c *Coordinator) History() []State {
	return append([]State{Idle}, c.history...)
}

// Run executes Cleaning(pre) -> Capturing -> Compressing -> Transferring ->
// Cleaning(post). Once Capturing is entered Cleaning(post) runs exactly once
// on every exit path.
func (c *Coordinator) Run(ctx context.Context, req platforms.CaptureRequest, placement *platforms.Placement) (res *Result, err error) {
	if c.state != Idle {
		return nil, errors.Errorf("coordinator already ran (state %v)", c.state)
	}
	c.defaults()
	res = &Result{}

	c.enter(ctx, CleaningPre)
	c.progress("Removing leftover snapshots from %v on node %v", c.Agent.PodName, c.Agent.NodeName)
	if err := c.clean(ctx); err != nil {
		c.enter(ctx, Failed)
		return res, err
	}

	c.enter(ctx, Capturing)
	defer func() {
		c.enter(ctx, CleaningPost)
		c.progress("Removing snapshots from %v", c.Agent.PodName)
		res.CleanupErr = c.clean(ctx)
		if res.CleanupErr != nil {
			contextutils.LoggerFrom(ctx).Warnw("cleanup failed", "agent", c.Agent.PodName, "error", res.CleanupErr)
		}
		if err != nil {
			c.enter(ctx, Failed)
			return
		}
		c.enter(ctx, Done)
	}()

	c.progress("Looking up the process of %v", placement.PodName)
	proc, err := c.Describer.DescribeProcess(ctx, placement, &c.Agent)
	if err != nil {
		return res, err
	}
	res.Process = proc

	artifact, err := c.newArtifact(req.InstanceName, proc.HostPID)
	if err != nil {
		return res, err
	}
	c.progress("Capturing a core dump of pid %d (%v)", proc.HostPID, proc.ExecutablePath)
	if _, err := platforms.Output(ctx, c.Executor, c.Agent.Pod(), agentcmd.Gcore(c.RemoteDir, proc.HostPID)...); err != nil {
		return res, platforms.WrapError(platforms.CaptureFailed, artifact.RemoteSnapshotPath, err)
	}

	c.enter(ctx, Compressing)
	c.progress("Compressing %v", artifact.RemoteSnapshotPath)
	if _, err := platforms.Output(ctx, c.Executor, c.Agent.Pod(), agentcmd.Compress(artifact.RemoteSnapshotPath)...); err != nil {
		return res, platforms.WrapError(platforms.CompressionFailed, artifact.RemoteSnapshotPath, err)
	}

	c.enter(ctx, Transferring)
	if err := c.transfer(ctx, artifact, proc.HostPID); err != nil {
		return res, err
	}
	res.Artifact = artifact
	return res, nil
}

func (c *Coordinator) transfer(ctx context.Context, artifact *Artifact, pid int) error {
	compressed := artifact.LocalSnapshotPath + options.CompressedSuffix
	c.progress("Copying %v to %v", artifact.RemoteCompressedPath, compressed)
	if err := c.Channel.CopyToLocal(ctx, artifact.RemoteCompressedPath, compressed); err != nil {
		return asTransferError(compressed, err)
	}

	c.progress("Decompressing to %v", artifact.LocalSnapshotPath)
	err := c.Channel.Decompress(compressed, artifact.LocalSnapshotPath)
	if rmErr := os.Remove(compressed); rmErr != nil && !os.IsNotExist(rmErr) {
		contextutils.LoggerFrom(ctx).Warnw("could not remove compressed copy", "path", compressed, "error", rmErr)
	}
	if err != nil {
		return asTransferError(artifact.LocalSnapshotPath, err)
	}

	c.progress("Copying the executable to %v", artifact.LocalBinaryPath)
	if err := c.Channel.CopyToLocal(ctx, agentcmd.ExePath(pid), artifact.LocalBinaryPath); err != nil {
		c.discard(ctx, artifact)
		return asTransferError(artifact.LocalBinaryPath, err)
	}
	if err := os.Chmod(artifact.LocalBinaryPath, 0755); err != nil {
		c.discard(ctx, artifact)
		return platforms.WrapError(platforms.TransferFailed, artifact.LocalBinaryPath, err)
	}
	return nil
}

// discard removes a half-written artifact; a core without its binary is not
// reported as a result.
func (c *Coordinator) discard(ctx context.Context, artifact *Artifact) {
	for _, p := range []string{artifact.LocalSnapshotPath, artifact.LocalBinaryPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			contextutils.LoggerFrom(ctx).Warnw("could not remove partial artifact", "path", p, "error", err)
		}
	}
}

func (c *Coordinator) clean(ctx context.Context) error {
	_, err := platforms.Output(ctx, c.Executor, c.Agent.Pod(), agentcmd.Clean(c.RemoteDir)...)
	return platforms.WrapError(platforms.CleanupFailed, agentcmd.SnapshotGlob(c.RemoteDir), err)
}

// newArtifact refuses local names that are already taken, before anything is
// captured or copied.
func (c *Coordinator) newArtifact(instance string, pid int) (*Artifact, error) {
	now := c.Now()
	snapshot := agentcmd.SnapshotPath(c.RemoteDir, pid)
	artifact := &Artifact{
		RemoteSnapshotPath:   snapshot,
		RemoteCompressedPath: agentcmd.CompressedPath(snapshot),
		LocalSnapshotPath:    filepath.Join(c.OutputDir, LocalName(instance, now, "core")),
		LocalBinaryPath:      filepath.Join(c.OutputDir, LocalName(instance, now, "binary")),
		CapturedAt:           now,
	}
	for _, p := range []string{artifact.LocalSnapshotPath, artifact.LocalBinaryPath} {
		if _, err := os.Lstat(p); err == nil {
			return nil, platforms.Errorf(platforms.TransferFailed, "%v already exists", p)
		} else if !os.IsNotExist(err) {
			return nil, platforms.WrapError(platforms.TransferFailed, p, err)
		}
	}
	return artifact, nil
}

// LocalName is <instance>-<timestamp>-<kind>, unique per capture second.
func LocalName(instance string, at time.Time, kind string) string {
	return fmt.Sprintf("%s-%s-%s", instance, at.UTC().Format(TimestampLayout), kind)
}

func (c *Coordinator) enter(ctx context.Context, s State) {
	contextutils.LoggerFrom(ctx).Debugw("capture state", "from", c.state.String(), "to", s.String())
	c.state = s
	c.history = append(c.history, s)
}

func (c *Coordinator) progress(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format+"\n", args...)
}

func (c *Coordinator) defaults() {
	if c.Out == nil {
		c.Out = ioutil.Discard
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.RemoteDir == "" {
		c.RemoteDir = options.RemoteDir
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
}

func asTransferError(path string, err error) error {
	if platforms.KindOf(err) != "" {
		return err
	}
	return platforms.WrapError(platforms.TransferFailed, path, err)
}
