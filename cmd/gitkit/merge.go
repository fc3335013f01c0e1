package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/internal/errutil"
	"github.com/gitkit-go/gitkit/merge"
	"github.com/spf13/cobra"
)

type mergeCmdFlags struct {
	message         string
	conflictStyle   string
	abortOnConflict bool
	abort           bool
}

func newMergeCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [<commit>]",
		Short: "Join two or more development histories together",
		Args:  cobra.MaximumNArgs(1),
	}

	flags := mergeCmdFlags{}
	cmd.Flags().StringVarP(&flags.message, "message", "m", "", "Set the merge commit message.")
	cmd.Flags().StringVar(&flags.conflictStyle, "conflict-style", "merge", `Conflict marker style ("merge" or "diff3").`)
	cmd.Flags().BoolVar(&flags.abortOnConflict, "abort-on-conflict", false, "Leave the index and working tree untouched on conflict instead of staging markers.")
	cmd.Flags().BoolVar(&flags.abort, "abort", false, "Abort the current in-progress conflicted merge.")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flags.abort {
			return mergeAbortCmd(cmd.OutOrStdout(), cfg)
		}
		if len(args) != 1 {
			return errors.New("merge requires a commit to merge")
		}
		return mergeCmd(cmd.Context(), cmd.OutOrStdout(), cfg, flags, args[0])
	}

	return cmd
}

func mergeAbortCmd(out io.Writer, cfg *globalFlags) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	if err := r.MergeAbort(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Merge aborted.")
	return nil
}

func mergeCmd(ctx context.Context, out io.Writer, cfg *globalFlags, flags mergeCmdFlags, commitish string) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	theirs, err := resolveCommitish(r, commitish)
	if err != nil {
		return err
	}

	sig, err := resolveSignature(cfg, r, "")
	if err != nil && !flags.abortOnConflict {
		return err
	}

	message := flags.message
	if message == "" {
		message = fmt.Sprintf("Merge commit '%s'", commitish)
	}

	result, err := r.Merge(ctx, theirs, git.MergeOptions{
		Style:           merge.ParseConflictStyle(flags.conflictStyle),
		AbortOnConflict: flags.abortOnConflict,
		Committer:       sig,
		Message:         message,
	})
	if err != nil {
		return err
	}

	if result.ConflictsCount > 0 {
		fmt.Fprintf(out, "Automatic merge failed; fix conflicts and then commit the result.\n")
		for _, p := range result.UnmergedPaths {
			fmt.Fprintf(out, "CONFLICT: %s\n", p)
		}
		return nil
	}

	fmt.Fprintln(out, "Merge made.")
	return nil
}

// resolveCommitish resolves a local branch name or a hex object ID to
// an oid.
func resolveCommitish(r *git.Repository, commitish string) (githash.Oid, error) {
	if ref, err := r.Refs().Resolve(ginternals.LocalBranchFullName(commitish)); err == nil {
		return ref.Target(), nil
	}
	oid, err := r.Hash().NewOidFromHex(commitish)
	if err != nil {
		return githash.Oid{}, errors.New("not a valid branch or commit: " + commitish)
	}
	return oid, nil
}
