package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/docstore"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout accepted by qactl seed --file.
type SeedFile struct {
	Events []SeedEvent `yaml:"events"`
}

type SeedEvent struct {
	Title  string    `yaml:"title"`
	Type   string    `yaml:"type"`
	State  string    `yaml:"state"`
	Start  time.Time `yaml:"start"`
	Image  string    `yaml:"image"`
	Admins []string  `yaml:"admins"`
	Guests []string  `yaml:"guests"`
}

func (s SeedEvent) event() events.Event {
	return events.Event{
		Title:     s.Title,
		Type:      events.Type(strings.ToUpper(strings.TrimSpace(s.Type))),
		State:     events.State(strings.ToLower(strings.TrimSpace(s.State))),
		StartTime: docstore.TimestampFrom(s.Start),
		ImageURL:  s.Image,
		AdminIDs:  s.Admins,
		Guests:    s.Guests,
	}
}

func ReadSeedFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, err
	}
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SeedFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return file, nil
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		file string
		demo int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create events from a YAML file or generate demo events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (demo <= 0) {
				return fmt.Errorf("exactly one of --file or --demo is required")
			}
			log := rootOpts.logger(cmd)
			b, err := rootOpts.backend(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer b.Close()
			svc := events.NewService(b.Store, log)

			var created []events.Event
			if demo > 0 {
				created, err = svc.SeedDemo(cmd.Context(), demo)
				if err != nil {
					return err
				}
			} else {
				seed, err := ReadSeedFile(file)
				if err != nil {
					return err
				}
				for i, se := range seed.Events {
					e, err := svc.Create(cmd.Context(), se.event())
					if err != nil {
						return fmt.Errorf("event %d (%q): %w", i+1, se.Title, err)
					}
					created = append(created, e)
				}
			}
			return rootOpts.output(cmd.OutOrStdout(), created, func(w io.Writer) {
				for _, e := range created {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Type, e.StartTime.Time().Format(time.RFC3339), e.Title)
				}
				fmt.Fprintf(w, "created %d event(s)\n", len(created))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with an events list")
	cmd.Flags().IntVar(&demo, "demo", 0, "number of demo events to generate")
	return cmd
}

func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rootOpts.logger(cmd)
			b, err := rootOpts.backend(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer b.Close()
			n, err := events.NewService(b.Store, log).Count(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.output(cmd.OutOrStdout(), map[string]int64{"count": n}, func(w io.Writer) {
				fmt.Fprintln(w, n)
			})
		},
	}
}
