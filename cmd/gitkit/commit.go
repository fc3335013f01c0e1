package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gitkit-go/gitkit/internal/errutil"

	git "github.com/gitkit-go/gitkit"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/spf13/cobra"
)

type commitCmdFlags struct {
	message string
	author  string
}

func newCommitCmd(cfg *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record changes to the repository",
		Args:  cobra.NoArgs,
	}

	flags := commitCmdFlags{}
	cmd.Flags().StringVarP(&flags.message, "message", "m", "", "Use the given message as the commit message.")
	cmd.Flags().StringVar(&flags.author, "author", "", `Override the commit author, as "Name <email>".`)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return commitCmd(cmd.OutOrStdout(), cfg, flags)
	}

	return cmd
}

func commitCmd(out io.Writer, cfg *globalFlags, flags commitCmdFlags) (err error) {
	if flags.message == "" {
		return errors.New("aborting commit due to empty commit message")
	}

	r, err := loadRepository(cfg)
	if err != nil {
		return err
	}
	defer errutil.Close(r, &err)

	sig, err := resolveSignature(cfg, r, flags.author)
	if err != nil {
		return err
	}

	oid, err := r.Commit(git.CommitOptions{
		Message:   flags.message,
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, oid.String())
	return nil
}

// resolveSignature builds the author/committer signature for a new
// commit: an explicit --author flag wins, then GIT_AUTHOR_NAME/
// GIT_AUTHOR_EMAIL, then user.name/user.email from the repository's
// config files.
func resolveSignature(cfg *globalFlags, r *git.Repository, authorFlag string) (object.Signature, error) {
	if authorFlag != "" {
		name, email, err := parseAuthor(authorFlag)
		if err != nil {
			return object.Signature{}, err
		}
		return object.NewSignature(name, email), nil
	}

	if name := cfg.env.Get("GIT_AUTHOR_NAME"); name != "" {
		return object.NewSignature(name, cfg.env.Get("GIT_AUTHOR_EMAIL")), nil
	}

	if name, _ := r.Config.FromFile().UserName(); name != "" {
		email, _ := r.Config.FromFile().UserEmail()
		return object.NewSignature(name, email), nil
	}

	return object.Signature{}, errors.New("no author identity available: set user.name/user.email, GIT_AUTHOR_NAME/GIT_AUTHOR_EMAIL, or pass --author")
}

func parseAuthor(s string) (name, email string, err error) {
	open := strings.IndexByte(s, '<')
	closeB := strings.IndexByte(s, '>')
	if open < 0 || closeB < open {
		return "", "", fmt.Errorf(`invalid --author %q, expected "Name <email>"`, s)
	}
	return strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1 : closeB]), nil
}
