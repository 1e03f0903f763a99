package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEmbedCommand(load loadAppFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed a piece of text and report which model served it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			vec, model, err := a.Embedder.EmbedWithModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model: %s\n", model)
			fmt.Fprintf(out, "dimension: %d\n", len(vec))
			fmt.Fprintf(out, "breaker: %s\n", a.Embedder.Breaker().State())
			return nil
		},
	}
}
