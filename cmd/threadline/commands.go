package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/five82/threadline/internal/app"
	"github.com/five82/threadline/internal/config"
	"github.com/five82/threadline/internal/feedapi"
	"github.com/five82/threadline/internal/interaction"
	"github.com/five82/threadline/internal/logging"
	"github.com/five82/threadline/internal/logtail"
	"github.com/five82/threadline/internal/state"
)

const actionTimeout = 30 * time.Second

type rootFlags struct {
	config      string
	prefs       string
	pollSeconds int
}

func (f *rootFlags) options() app.Options {
	return app.Options{ConfigPath: f.config, PrefsPath: f.prefs, PollEvery: f.pollSeconds}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "threadline",
		Short:         "Terminal client for the threadline feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return errors.New("the feed view needs a terminal; use a subcommand for scripted access")
			}
			return app.Run(cmd.Context(), flags.options())
		},
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "", "config file path (default ~/.config/threadline/config.toml)")
	root.PersistentFlags().StringVar(&flags.prefs, "prefs", "", "prefs file path (default ~/.config/threadline/prefs.toml)")
	root.Flags().IntVar(&flags.pollSeconds, "poll", 0, "refresh interval in seconds (defaults to the config value)")

	root.AddCommand(
		newLikeCmd(flags),
		newReactCmd(flags),
		newCommentCmd(flags),
		newEditCmd(flags),
		newDeleteCmd(flags),
		newLogsCmd(flags),
	)
	return root
}

func newLikeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "like <post-id>",
		Short: "Toggle your like on a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID := state.EntityID(args[0])
			return dispatchOnce(cmd, flags, postID, interaction.Like(postID))
		},
	}
}

func newReactCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "react <post-id> <comment-id> like|dislike",
		Short:     "Toggle your like or dislike on a comment",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"like", "dislike"},
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, commentID := state.EntityID(args[0]), state.EntityID(args[1])
			var action interaction.Action
			switch strings.ToLower(args[2]) {
			case "like":
				action = interaction.CommentLike(postID, commentID)
			case "dislike":
				action = interaction.CommentDislike(postID, commentID)
			default:
				return fmt.Errorf("reaction must be like or dislike, got %q", args[2])
			}
			return dispatchOnce(cmd, flags, postID, action)
		},
	}
}

func newCommentCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <post-id> <text...>",
		Short: "Add a comment to a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID := state.EntityID(args[0])
			return dispatchOnce(cmd, flags, postID, interaction.CreateComment(postID, strings.Join(args[1:], " ")))
		},
	}
}

func newEditCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <post-id> <comment-id> <text...>",
		Short: "Replace the text of your comment",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, commentID := state.EntityID(args[0]), state.EntityID(args[1])
			return dispatchOnce(cmd, flags, postID, interaction.EditComment(postID, commentID, strings.Join(args[2:], " ")))
		},
	}
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <post-id> <comment-id>",
		Short: "Delete your comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, commentID := state.EntityID(args[0]), state.EntityID(args[1])
			return dispatchOnce(cmd, flags, postID, interaction.DeleteComment(postID, commentID))
		},
	}
}

// dispatchOnce loads the post into the detail location, runs a single
// action through the engine and reports its outcome.
func dispatchOnce(cmd *cobra.Command, flags *rootFlags, postID state.EntityID, action interaction.Action) error {
	svc, err := app.Open(flags.options())
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), actionTimeout)
	defer cancel()

	resp, err := svc.Client.FetchPost(ctx, string(postID))
	if err != nil {
		return fmt.Errorf("load post %s: %w", postID, err)
	}
	svc.Engine.Apply(state.LocationDetail, []feedapi.Post{resp.Post}, resp.Comments)

	pending, err := svc.Engine.Dispatch(ctx, action)
	if err != nil {
		return err
	}
	outcome := pending.Wait(ctx)
	return reportOutcome(cmd.OutOrStdout(), outcome)
}

func reportOutcome(w io.Writer, o interaction.Outcome) error {
	label := o.Action.Kind.Label()
	switch {
	case o.Status == interaction.StatusSucceeded && o.CommentID != "":
		fmt.Fprintf(w, "%s: ok (comment %s)\n", label, o.CommentID)
		return nil
	case o.Status == interaction.StatusSucceeded:
		fmt.Fprintf(w, "%s: ok\n", label)
		return nil
	case o.Status == interaction.StatusPending:
		return fmt.Errorf("%s: still waiting on the server: %w", label, o.Err)
	case o.Unconfirmed:
		return fmt.Errorf("%s: sent but not confirmed (%s): %w", label, o.Class, o.Err)
	default:
		return fmt.Errorf("%s failed after %d attempt(s) (%s): %w", label, o.Attempts, o.Class, o.Err)
	}
}

func newLogsCmd(flags *rootFlags) *cobra.Command {
	var (
		lines int
		level string
		plain bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the end of the threadline log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.config)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			minLevel, err := logging.ParseLevel(level)
			if err != nil {
				return err
			}
			return printLogs(cmd.OutOrStdout(), cfg.LogFile, lines, minLevel, !plain && isatty.IsTerminal(os.Stdout.Fd()))
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show (0 for all)")
	cmd.Flags().StringVar(&level, "level", "debug", "lowest level to show")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors")
	return cmd
}

func printLogs(w io.Writer, path string, lines int, minLevel zapcore.Level, color bool) error {
	raw, err := logtail.Read(path, lines)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		fmt.Fprintf(w, "no log entries in %s\n", path)
		return nil
	}
	for _, line := range logtail.FormatLines(raw, minLevel, color) {
		fmt.Fprintln(w, line)
	}
	return nil
}
