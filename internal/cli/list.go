package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/hippocamp/internal/model"
	"github.com/rcliao/hippocamp/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Run:   runList,
	}

	cmd.Flags().StringP("project", "p", "", "Filter by project")
	cmd.Flags().StringP("type", "t", "", "Filter by memory type")
	cmd.Flags().Bool("include-deprecated", false, "Include deprecated memories")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")
	typ, _ := cmd.Flags().GetString("type")
	includeDeprecated, _ := cmd.Flags().GetBool("include-deprecated")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	if typ != "" && !model.MemoryType(typ).Valid() {
		exitErr("list", fmt.Errorf("invalid memory type: %s", typ))
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	memories, err := a.store.List(cmd.Context(), store.ListParams{
		Project:           project,
		Type:              model.MemoryType(typ),
		IncludeDeprecated: includeDeprecated,
		Limit:             limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Println(m.ID)
		}
		return
	}

	printJSON(memories)
}
