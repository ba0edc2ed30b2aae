package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mediaget/media-downloader/internal/model"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve URL",
	Short: "List the downloadable variants of a URL without downloading",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		res, err := app.registry.Lookup(args[0])
		if err != nil {
			return err
		}
		variants, err := res.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Resolver: %s\n", res.Name())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FORMAT\tCONTAINER\tRESOLUTION\tSIZE\tTITLE")
		for _, v := range variants {
			size := "?"
			if v.EstimatedSize > 0 {
				size = model.FormatBytes(v.EstimatedSize)
			}
			resLabel := v.ResolutionLabel
			if resLabel == "" {
				resLabel = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.FormatID, v.Container, resLabel, size, v.Title)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
