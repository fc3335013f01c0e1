package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/config"
	"github.com/spf13/cobra"
)

// initCmdFlags represents the flags accepted by the init command.
//
// Reference: https://git-scm.com/docs/git-init#_options
type initCmdFlags struct {
	initialBranch string
	quiet         bool
	bare          bool
}

func newInitCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create an empty Git repository or reinitialize an existing one",
		Args:  cobra.MaximumNArgs(1),
	}

	flags := initCmdFlags{}
	cmd.Flags().StringVarP(&flags.initialBranch, "initial-branch", "b", "",
		"Use the specified name for the initial branch. Defaults to master.")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false,
		"Only print error and warning messages; all other output is suppressed.")
	cmd.Flags().BoolVar(&flags.bare, "bare", false, "Create a bare repository.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		directory := ""
		if len(args) > 0 {
			directory = args[0]
		}
		return initCmd(cmd.OutOrStdout(), cfg, flags, directory)
	}

	return cmd
}

func initCmd(out io.Writer, cfg *globalFlags, flags initCmdFlags, optionalDirectory string) error {
	workingDirectory := cfg.C.String()
	if optionalDirectory != "" {
		workingDirectory = optionalDirectory
	}
	if err := os.MkdirAll(workingDirectory, 0o755); err != nil {
		return fmt.Errorf("could not create %s: %w", workingDirectory, err)
	}

	p, err := config.LoadConfig(cfg.env, config.LoadConfigOptions{
		WorkingDirectory: workingDirectory,
		GitDirPath:       cfg.GitDir,
		WorkTreePath:     cfg.WorkTree,
		IsBare:           cfg.Bare || flags.bare,
		SkipGitDirLookUp: true,
	})
	if err != nil {
		return fmt.Errorf("could not load repository config: %w", err)
	}

	newRepo := true
	if _, err := os.Stat(filepath.Join(p.GitDirPath, ginternals.HeadFileName)); err == nil {
		newRepo = false
	}

	r, err := git.InitRepositoryWithParams(p, git.InitOptions{
		IsBare:            cfg.Bare || flags.bare,
		InitialBranchName: flags.initialBranch,
	})
	if err != nil {
		return err
	}

	if newRepo {
		fprintln(flags.quiet, out, "Initialized empty Git repository in", p.GitDirPath)
	} else {
		fprintln(flags.quiet, out, "Reinitialized existing Git repository in", p.GitDirPath)
	}

	return r.Close()
}
