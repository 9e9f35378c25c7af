package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	m, err := a.store.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}

	printJSON(m)
}
