package main

import (
	"os"

	"github.com/vgstub/vgregs/cmd/vgregs/cmds"
	"github.com/vgstub/vgregs/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.VgregsVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
