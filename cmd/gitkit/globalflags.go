package main

import (
	"github.com/gitkit-go/gitkit/internal/env"
	"github.com/spf13/pflag"
)

// globalFlags holds the persistent, repository-locating flags every
// subcommand reads: -C plus the GIT_DIR/GIT_WORK_TREE/bare
// equivalents a real git binary also accepts as flags.
type globalFlags struct {
	C        pflag.Value
	GitDir   string
	WorkTree string
	Bare     bool

	env *env.Env
}
