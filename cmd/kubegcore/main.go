package main

import (
	"fmt"
	"os"

	"github.com/solo-io/kubegcore/pkg/kubegcore"
	"github.com/solo-io/kubegcore/pkg/version"
)

func main() {
	app := kubegcore.App(version.Version)
	if err := app.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
