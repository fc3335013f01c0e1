package main

import (
	"context"
	"fmt"
	"io"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/internal/errutil"
	"github.com/gitkit-go/gitkit/transport"
	"github.com/spf13/cobra"
)

type fetchCmdFlags struct {
	remoteName      string
	protocolVersion int
}

func newFetchCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <repository>",
		Short: "Download objects and refs from another repository",
		Args:  cobra.ExactArgs(1),
	}

	flags := fetchCmdFlags{}
	cmd.Flags().StringVar(&flags.remoteName, "remote", "origin", "Name to record the remote-tracking refs under.")
	cmd.Flags().IntVar(&flags.protocolVersion, "protocol-version", 0, "Git wire protocol version to request (1 or 2, 0 for the default).")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return fetchCmd(cmd.Context(), cmd.OutOrStdout(), cfg, flags, args[0])
	}

	return cmd
}

func fetchCmd(ctx context.Context, out io.Writer, cfg *globalFlags, flags fetchCmdFlags, remoteURL string) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	result, err := r.Fetch(ctx, git.FetchOptions{
		RemoteURL:   remoteURL,
		Remote:      flags.remoteName,
		RefPrefixes: []string{ginternals.RefsHeadsRelPath + "/", ginternals.RefsTagsRelPath + "/"},
		HTTPOptions: transport.Options{
			ProtocolVersion: flags.protocolVersion,
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "From %s\n", remoteURL)
	for name, oid := range result.UpdatedRefs {
		fmt.Fprintf(out, " * %s -> %s\n", name, oid.String())
	}
	return nil
}
