package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"levelwatch/internal/app"
)

var (
	showEvents int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored levels and recent crossings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showEvents < 0 {
			return fmt.Errorf("--events must not be negative")
		}

		opts := app.ShowOptions{
			Events: showEvents,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showEvents, "events", 20, "Number of recent crossings to display (0 to hide)")
}
