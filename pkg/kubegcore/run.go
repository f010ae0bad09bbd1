package kubegcore

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/solo-io/go-utils/contextutils"

	"github.com/solo-io/kubegcore/pkg/capture"
	"github.com/solo-io/kubegcore/pkg/config"
	"github.com/solo-io/kubegcore/pkg/launch"
	"github.com/solo-io/kubegcore/pkg/platforms"
	"github.com/solo-io/kubegcore/pkg/transfer"
)

type Lease interface {
	Acquire(ctx context.Context, agent *platforms.AgentHandle) (func(context.Context) error, error)
}

// Pipeline is one capture: resolve, locate, confirm, lease, capture,
// correlate.
type Pipeline struct {
	Resolver  platforms.TargetResolver
	Locator   platforms.AgentLocator
	Describer platforms.ProcessDescriber
	Executor  platforms.Executor
	Lease     Lease
	// Confirm is not called in machine mode.
	Confirm func(message string) (bool, error)

	Config  *config.Config
	WorkDir string
	Out     io.Writer
	Now     func() time.Time
}

func (p *Pipeline) Run(ctx context.Context, instance string) (out *Outcome, err error) {
	logger := contextutils.LoggerFrom(ctx)
	if p.Out == nil {
		p.Out = ioutil.Discard
	}
	out = &Outcome{}

	req := platforms.CaptureRequest{InstanceName: instance, Namespace: p.Config.Namespace}
	fmt.Fprintf(p.Out, "Resolving pod %v\n", instance)
	out.Placement, err = p.Resolver.Resolve(ctx, req)
	if err != nil {
		return out, err
	}
	fmt.Fprintf(p.Out, "Looking for the gcore agent on node %v\n", out.Placement.NodeName)
	out.Agent, err = p.Locator.Locate(ctx, out.Placement.NodeName)
	if err != nil {
		return out, err
	}
	if p.Config.Verbose {
		logger.Debugf("placement: %s agent: %s", spew.Sdump(out.Placement), spew.Sdump(out.Agent))
	}

	if !p.Config.Machine {
		confirmed, err := p.Confirm(fmt.Sprintf("Going to capture a core dump of pod %v on node %v through %v. continue?",
			out.Placement.PodName, out.Placement.NodeName, out.Agent.PodName))
		if err != nil {
			return out, err
		}
		if !confirmed {
			return out, platforms.Errorf(platforms.Aborted, "user aborted")
		}
	}

	release, err := p.Lease.Acquire(ctx, out.Agent)
	if err != nil {
		return out, err
	}
	defer func() {
		// the run's own context may be the reason we are leaving
		if relErr := release(context.Background()); relErr != nil {
			p.warn(out, errors.Wrapf(relErr, "releasing lease for node %v", out.Agent.NodeName))
		}
	}()

	coordinator := &capture.Coordinator{
		Agent:     *out.Agent,
		Executor:  p.Executor,
		Describer: p.Describer,
		Channel:   transfer.NewChannel(p.Executor, out.Agent.Pod()),
		RemoteDir: p.Config.RemoteDir,
		OutputDir: p.Config.OutputDir,
		Out:       p.Out,
		Now:       p.Now,
	}
	out.Capture, err = coordinator.Run(ctx, req, out.Placement)
	if out.Capture != nil && out.Capture.CleanupErr != nil {
		p.warn(out, errors.Wrap(out.Capture.CleanupErr, "cleaning up the agent"))
	}
	if err != nil {
		return out, err
	}

	inputs := launch.Inputs{
		InstanceName:     instance,
		SnapshotPath:     out.Capture.Artifact.LocalSnapshotPath,
		BinaryPath:       out.Capture.Artifact.LocalBinaryPath,
		WorkDir:          p.WorkDir,
		SourceRoot:       p.Config.SourceRoot,
		ModuleCache:      p.Config.ModuleCache,
		BuildSourceRoot:  p.Config.BuildSourceRoot,
		BuildModuleCache: p.Config.BuildModuleCache,
	}
	if err := launch.Validate(inputs); err != nil {
		p.warn(out, errors.Wrap(err, "path substitutions may not resolve"))
	}
	descriptor := launch.Build(inputs)
	out.Descriptor = &descriptor
	return out, launch.Render(p.Out, descriptor)
}

func (p *Pipeline) warn(out *Outcome, err error) {
	log.Warn(err)
	out.Warnings = multierror.Append(out.Warnings, err)
}
