package main

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/transport"
	"github.com/spf13/cobra"
)

type cloneCmdFlags struct {
	branch          string
	bare            bool
	protocolVersion int
}

func newCloneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone <repository> [directory]",
		Short: "Clone a repository into a new directory",
		Args:  cobra.RangeArgs(1, 2),
	}

	flags := cloneCmdFlags{}
	cmd.Flags().StringVarP(&flags.branch, "branch", "b", "", "Check out this branch instead of the remote's default.")
	cmd.Flags().BoolVar(&flags.bare, "bare", false, "Make a bare repository, with no working tree.")
	cmd.Flags().IntVar(&flags.protocolVersion, "protocol-version", 0, "Git wire protocol version to request (1 or 2, 0 for the default).")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dest := args[0]
		if len(args) == 2 {
			dest = args[1]
		} else {
			dest = defaultCloneDir(args[0])
		}
		return cloneCmd(cmd.Context(), cmd.OutOrStdout(), flags, args[0], dest)
	}

	return cmd
}

func cloneCmd(ctx context.Context, out io.Writer, flags cloneCmdFlags, remoteURL, dest string) error {
	fmt.Fprintf(out, "Cloning into '%s'...\n", dest)

	r, err := git.Clone(ctx, dest, git.CloneOptions{
		RemoteURL: remoteURL,
		Branch:    flags.branch,
		Bare:      flags.bare,
		HTTPOptions: transport.Options{
			ProtocolVersion: flags.protocolVersion,
		},
	})
	if err != nil {
		return err
	}
	return r.Close()
}

// defaultCloneDir mirrors git's own derivation of the destination
// directory from the remote URL: the last path segment, with a
// trailing ".git" stripped.
func defaultCloneDir(remoteURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(remoteURL, "/"), ".git")
	return path.Base(trimmed)
}
