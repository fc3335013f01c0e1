package main

import (
	"context"
	"fmt"
	"io"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/internal/errutil"
	"github.com/gitkit-go/gitkit/transport"
	"github.com/spf13/cobra"
)

type pushCmdFlags struct {
	force           bool
	protocolVersion int
}

func newPushCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <repository> <branch>",
		Short: "Update remote refs along with associated objects",
		Args:  cobra.ExactArgs(2),
	}

	flags := pushCmdFlags{}
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Skip the fast-forward check.")
	cmd.Flags().IntVar(&flags.protocolVersion, "protocol-version", 0, "Git wire protocol version to request (1 or 2, 0 for the default).")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return pushCmd(cmd.Context(), cmd.OutOrStdout(), cfg, flags, args[0], args[1])
	}

	return cmd
}

func pushCmd(ctx context.Context, out io.Writer, cfg *globalFlags, flags pushCmdFlags, remoteURL, branch string) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	result, err := r.Push(ctx, git.PushOptions{
		RemoteURL: remoteURL,
		Branch:    branch,
		Force:     flags.force,
		HTTPOptions: transport.Options{
			ProtocolVersion: flags.protocolVersion,
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "To %s\n", remoteURL)
	for _, status := range result.RefStatuses {
		if !status.OK {
			fmt.Fprintf(out, " ! %s (%s)\n", status.Name, status.Reason)
			continue
		}
		fmt.Fprintf(out, " * %s\n", status.Name)
	}
	return nil
}
