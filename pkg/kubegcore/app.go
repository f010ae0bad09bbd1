package kubegcore

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solo-io/go-utils/contextutils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/solo-io/kubegcore/pkg/config"
	"github.com/solo-io/kubegcore/pkg/options"
	kube "github.com/solo-io/kubegcore/pkg/platforms/kubernetes"
	"github.com/solo-io/kubegcore/pkg/utils/kubeutils"
)

const descriptionUsage = `kubegcore takes a core dump of a running pod and copies it, together with
the pod's executable, to the current directory. It then prints a launch
configuration for debugging the core file against your local sources.

A gcore-agent pod (label app=gcore-agent) must be running on the pod's node.
Settings are read from ~/.kubegcore/config.yaml and KUBEGCORE_* variables.
`

func App(version string) *cobra.Command {
	opts := &Options{
		ConfigFile: os.Getenv(options.EnvPrefix + "_CONFIG"),
		Out:        os.Stdout,
	}
	app := &cobra.Command{
		Use:           "kubegcore <instance>",
		Short:         "capture a core dump of a pod",
		Long:          descriptionUsage,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(args[0])
		},
	}
	return app
}

func (o *Options) run(instance string) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	contextutils.SetFallbackLogger(logger.Sugar())
	ctx := contextutils.WithLogger(context.Background(), "kubegcore")

	log.SetOutput(os.Stderr)
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	clientset, restCfg, namespace, err := kubeutils.NewKubeClientset(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		return err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = namespace
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	executor := kube.NewPodExecutor(clientset, restCfg)
	p := &Pipeline{
		Resolver:  kube.NewResolver(clientset),
		Locator:   kube.NewAgentLocator(clientset, cfg.AgentNamespace, cfg.AgentSelector, cfg.AgentContainer),
		Describer: kube.NewProcessDescriber(executor),
		Executor:  executor,
		Lease:     kube.NewNodeLease(clientset, time.Duration(cfg.LeaseSeconds)*time.Second),
		Confirm:   SurveyConfirm,
		Config:    cfg,
		WorkDir:   wd,
		Out:       o.Out,
		Now:       time.Now,
	}
	_, err = p.Run(ctx, instance)
	return err
}

// newLogger logs to stderr so progress and the launch configuration on stdout
// stay copyable.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	level := zapcore.WarnLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}
	if cfg.Verbose && level > zapcore.DebugLevel {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
