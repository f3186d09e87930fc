package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report embedder reachability and vector-index collection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, cleanup, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			h := svc.Health(ctx)
			tbl := table.New("check", "status")
			tbl.AddRow("embedder", embedderStatus(h.EmbedderOK, h.EmbedderErr))
			tbl.AddRow("index dimension", h.IndexDim)
			tbl.Print()

			if !h.EmbedderOK {
				return fmt.Errorf("embedder unreachable: %s", h.EmbedderErr)
			}
			return nil
		},
	}
}

func embedderStatus(ok bool, errMsg string) string {
	if ok {
		return color.GreenString("ok")
	}
	return color.RedString("unreachable: %s", errMsg)
}
