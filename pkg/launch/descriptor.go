// Package launch turns the files of a capture into a debugger launch
// configuration for offline analysis.
package launch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/solo-io/kubegcore/pkg/options"
)

type Substitution struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Descriptor follows the layout of a launch.json configuration entry.
type Descriptor struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Request        string         `json:"request"`
	Mode           string         `json:"mode"`
	Program        string         `json:"program"`
	CoreFilePath   string         `json:"coreFilePath"`
	SubstitutePath []Substitution `json:"substitutePath"`
}

type Inputs struct {
	InstanceName string
	SnapshotPath string
	BinaryPath   string
	// WorkDir resolves relative paths.
	WorkDir string

	// local side of the substitutions
	SourceRoot  string
	ModuleCache string

	// paths compiled into the binary
	BuildSourceRoot  string
	BuildModuleCache string
}

// Build is pure; nothing is read from disk.
func Build(in Inputs) Descriptor {
	buildSourceRoot := in.BuildSourceRoot
	if buildSourceRoot == "" {
		buildSourceRoot = options.BuildSourceRoot
	}
	buildModuleCache := in.BuildModuleCache
	if buildModuleCache == "" {
		buildModuleCache = options.BuildModuleCache
	}
	return Descriptor{
		Name:         fmt.Sprintf("Core %s", in.InstanceName),
		Type:         options.DebuggerType,
		Request:      "launch",
		Mode:         options.SnapshotMode,
		Program:      absolute(in.WorkDir, in.BinaryPath),
		CoreFilePath: absolute(in.WorkDir, in.SnapshotPath),
		SubstitutePath: []Substitution{
			{From: absolute(in.WorkDir, in.SourceRoot), To: buildSourceRoot},
			{From: absolute(in.WorkDir, in.ModuleCache), To: buildModuleCache},
		},
	}
}

// Validate reports local roots that cannot be right. The descriptor is still
// usable when it returns an error; the substitutions just won't resolve.
func Validate(in Inputs) error {
	var result *multierror.Error
	roots := []struct {
		name, path string
	}{
		{"source root", in.SourceRoot},
		{"module cache", in.ModuleCache},
	}
	for _, root := range roots {
		if root.path == "" {
			result = multierror.Append(result, errors.Errorf("%s is not set", root.name))
			continue
		}
		path := absolute(in.WorkDir, root.path)
		info, err := os.Stat(path)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "%s %v", root.name, path))
			continue
		}
		if !info.IsDir() {
			result = multierror.Append(result, errors.Errorf("%s %v is not a directory", root.name, path))
		}
	}
	return result.ErrorOrNil()
}

const banner = "--------------------------------------------------------------------------------"

// Render writes d as a copy/paste block.
func Render(w io.Writer, d Descriptor) error {
	b, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Add this configuration to your launch.json:\n%s\n%s\n%s\n", banner, b, banner)
	return err
}

func absolute(workDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}
