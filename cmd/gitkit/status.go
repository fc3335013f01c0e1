package main

import (
	"fmt"
	"io"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/internal/errutil"
	"github.com/spf13/cobra"
)

func newStatusCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return statusCmd(cmd.OutOrStdout(), cfg)
	}

	return cmd
}

func statusCmd(out io.Writer, cfg *globalFlags) (err error) {
	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	st, err := r.Status()
	if err != nil {
		return err
	}

	if st.Detached {
		fmt.Fprintln(out, "HEAD detached")
	} else {
		fmt.Fprintf(out, "On branch %s\n", st.Branch)
	}

	if _, inProgress, mErr := r.Backend().MergeHead(); mErr == nil && inProgress {
		if conflicted, cErr := r.HasConflicts(); cErr == nil && conflicted {
			fmt.Fprintln(out, "You have unmerged paths.")
		} else {
			fmt.Fprintln(out, "All conflicts fixed but you are still merging.")
		}
	}

	if len(st.Entries) == 0 {
		fmt.Fprintln(out, "nothing to commit, working tree clean")
		return nil
	}

	for _, e := range st.Entries {
		switch {
		case e.Untracked:
			fmt.Fprintf(out, "?? %s\n", e.Path)
		default:
			fmt.Fprintf(out, "%s%s %s\n", changeLetter(e.Staged), changeLetter(e.Worktree), e.Path)
		}
	}
	return nil
}

func changeLetter(c git.ChangeType) string {
	switch c {
	case git.Added:
		return "A"
	case git.Modified:
		return "M"
	case git.Deleted:
		return "D"
	default:
		return " "
	}
}
