package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/hippocamp/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export all memories, deprecated ones included. Filter by project with -p. With --as-batch the output is a create payload accepted by 'batch create'.",
		Run:   runExport,
	}

	cmd.Flags().StringP("project", "p", "", "Filter by project")
	cmd.Flags().Bool("as-batch", false, "Emit create payloads instead of stored records")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")
	asBatch, _ := cmd.Flags().GetBool("as-batch")

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	memories, err := a.store.ExportAll(cmd.Context(), project)
	if err != nil {
		exitErr("export", err)
	}

	if asBatch {
		printJSON(store.ToCreateParams(memories))
		return
	}
	printJSON(memories)
}
