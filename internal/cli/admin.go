package cli

import (
	"fmt"
	"io"

	"github.com/liveqa/project/internal/backend"
	"github.com/spf13/cobra"
)

func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage global admin rights",
	}
	cmd.AddCommand(newSetAdminCommand(rootOpts, "grant", true))
	cmd.AddCommand(newSetAdminCommand(rootOpts, "revoke", false))
	return cmd
}

func newSetAdminCommand(rootOpts *RootOptions, use string, admin bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: fmt.Sprintf("%s global admin rights for a registered user", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rootOpts.logger(cmd)
			b, err := rootOpts.backend(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.Identity == nil {
				return backend.ErrNoIdentity
			}
			if err := b.Identity.SetAdmin(cmd.Context(), args[0], admin); err != nil {
				return fmt.Errorf("%s %s: %w", use, args[0], err)
			}
			result := map[string]any{"email": args[0], "admin": admin}
			return rootOpts.output(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "%s: admin=%t\n", args[0], admin)
			})
		},
	}
}
