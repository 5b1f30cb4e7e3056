package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/liveqa/project/internal/app/questions"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var tabName string
	cmd := &cobra.Command{
		Use:   "watch <event-id>",
		Short: "Follow an event's ranked questions until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tab, err := questions.ParseTab(tabName)
			if err != nil {
				return err
			}
			log := rootOpts.logger(cmd)
			b, err := rootOpts.backend(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer b.Close()

			session := questions.Open(cmd.Context(), b.Store, args[0], log)
			defer session.Close()
			return watchSession(cmd.Context(), rootOpts, cmd.OutOrStdout(), session, tab, log)
		},
	}
	cmd.Flags().StringVar(&tabName, "tab", "asked", "tab to show (asked|answered|private)")
	return cmd
}

// watchSession prints the tab after every change until ctx ends or the
// session closes.
func watchSession(ctx context.Context, opts *RootOptions, w io.Writer, session *questions.Session, tab questions.Tab, log logrus.FieldLogger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-session.Updates():
			if !ok {
				return nil
			}
			list := session.Questions(tab)
			err := opts.output(w, list, func(w io.Writer) { printQuestions(w, tab, list) })
			if err != nil {
				log.WithError(err).Warn("write failed")
				return err
			}
		}
	}
}

func printQuestions(w io.Writer, tab questions.Tab, list []questions.Question) {
	fmt.Fprintf(w, "== %s (%d)\n", tab, len(list))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, q := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", q.Likes, q.ID, q.Text)
	}
	_ = tw.Flush()
}
