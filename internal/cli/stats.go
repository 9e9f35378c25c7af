package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	stats, err := a.store.Stats(cmd.Context(), a.cfg.DB)
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(stats)
}
