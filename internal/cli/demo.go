package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/internal/docstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type DemoOptions struct {
	Duration time.Duration
	Interval time.Duration
	Users    int
	Tab      string
}

func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := DemoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Simulate a live event in memory and print the ranked questions",
		Long: "demo creates a live event on an in-process store, has simulated users post and\n" +
			"like questions while a host answers them, and prints the chosen tab after every change.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Users < 1 {
				return fmt.Errorf("--users must be at least 1")
			}
			tab, err := questions.ParseTab(opts.Tab)
			if err != nil {
				return err
			}
			memOpts := *rootOpts
			memOpts.Memory = true
			log := memOpts.logger(cmd)
			b, err := memOpts.backend(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Duration)
			defer cancel()

			out := &syncWriter{w: cmd.OutOrStdout()}
			eventSvc := events.NewService(b.Store, log)
			event, err := eventSvc.Create(ctx, events.Event{
				Title:     "Demo Ask-Me-Anything",
				Type:      events.TypeAMA,
				State:     events.StateLive,
				StartTime: docstore.TimestampFrom(time.Now()),
			})
			if err != nil {
				return err
			}
			questionSvc := questions.NewService(b.Store, eventSvc, log)
			questionSvc.Announce = func(a questions.Announcement) {
				fmt.Fprintf(out, "** %s\n", a.Message)
			}

			session := questions.Open(ctx, b.Store, event.ID, log)
			defer session.Close()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				simulate(ctx, questionSvc, session, event.ID, opts, log)
			}()
			err = watchSession(ctx, &memOpts, out, session, tab, log)
			wg.Wait()
			return err
		},
	}
	cmd.Flags().DurationVar(&opts.Duration, "duration", 5*time.Second, "how long the simulation runs")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 250*time.Millisecond, "delay between simulated actions")
	cmd.Flags().IntVar(&opts.Users, "users", 4, "number of simulated attendees")
	cmd.Flags().StringVar(&opts.Tab, "tab", "asked", "tab to show (asked|answered|private)")
	return cmd
}

// simulate cycles through posting, liking and answering until ctx ends.
// Rejected actions (rate limits, races with answers) are logged and skipped.
func simulate(ctx context.Context, svc *questions.Service, session *questions.Session, eventID string, opts DemoOptions, log logrus.FieldLogger) {
	host := questions.Actor{UserID: "host", DisplayName: "Host", Admin: true}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	posted := 0
	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		user := questions.Actor{UserID: fmt.Sprintf("user-%d", step%opts.Users+1)}
		asked := session.Questions(questions.StateAsked)
		var err error
		switch {
		case step%3 == 0 || len(asked) == 0:
			posted++
			_, err = svc.Post(ctx, user, eventID, fmt.Sprintf("Question %d from %s?", posted, user.UserID))
		case step%7 == 6:
			top := asked[0]
			err = svc.Answer(ctx, host, eventID, top.ID, "Thanks for asking, here is the answer.")
		default:
			target := asked[(step*5)%len(asked)]
			_, err = svc.ToggleLike(ctx, user, eventID, target.ID)
		}
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("step", step).Debug("simulated action rejected")
		}
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
