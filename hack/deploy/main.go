package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/solo-io/kubegcore/pkg/install"
	"github.com/solo-io/kubegcore/pkg/utils/kubeutils"
)

func main() {
	if err := app(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func app() error {
	var (
		o       install.AgentOptions
		preview bool
	)
	flag.StringVar(&o.Namespace, "namespace", install.DefaultNamespace, "namespace for the gcore agent daemonset")
	flag.StringVar(&o.Image, "image", install.DefaultImage, "agent image; needs gdb, gzip, nsenter and crictl")
	flag.BoolVar(&preview, "preview", false, "print the resources instead of creating them")
	flag.Parse()

	if preview {
		return install.InstallAgent(context.Background(), nil, o, os.Stdout, true)
	}
	cs, _, _, err := kubeutils.NewKubeClientset("", "")
	if err != nil {
		return err
	}
	return install.InstallAgent(context.Background(), cs, o, os.Stdout, false)
}
