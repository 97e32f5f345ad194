package main

import (
	"github.com/spf13/cobra"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <userId>",
		Short: "Print the furthest checkpoint a user reached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			cp, err := app.Checkpoints.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cp)
		},
	}
}
