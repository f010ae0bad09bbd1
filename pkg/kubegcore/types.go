package kubegcore

import (
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/solo-io/kubegcore/pkg/capture"
	"github.com/solo-io/kubegcore/pkg/launch"
	"github.com/solo-io/kubegcore/pkg/platforms"
)

type Options struct {
	// ConfigFile overrides ~/.kubegcore/config.yaml. Read from KUBEGCORE_CONFIG.
	ConfigFile string
	Out        io.Writer
}

// Outcome is everything a run produced, including what it produced before
// failing.
type Outcome struct {
	Placement  *platforms.Placement
	Agent      *platforms.AgentHandle
	Capture    *capture.Result
	Descriptor *launch.Descriptor
	// Warnings never fail the run.
	Warnings *multierror.Error
}
