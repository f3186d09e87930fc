package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/corpusrag/ragcore/internal/rag/retrieval"
)

func newRetrieveCmd() *cobra.Command {
	var (
		docType           string
		k                 int
		timeDecay         bool
		halfLifeDays      float64
		maxPostsPerThread int
	)

	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Run a retrieval query against the indexed corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, cleanup, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			opt := retrieval.DefaultOptions()
			if k > 0 {
				opt.K = k
			}
			opt.DocTypeFilter = docType
			opt.ApplyTimeDecay = timeDecay
			if halfLifeDays > 0 {
				opt.HalfLifeDays = halfLifeDays
			}
			if maxPostsPerThread > 0 {
				opt.MaxPostsPerThread = maxPostsPerThread
			}

			res, err := svc.Retrieve(ctx, args[0], opt)
			if err != nil {
				return err
			}
			printRetrieveResult(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&docType, "doc-type", "", "restrict to \"doc\" or \"forum\" matches")
	cmd.Flags().IntVar(&k, "k", 0, "number of candidate matches to retrieve (default 30)")
	cmd.Flags().BoolVar(&timeDecay, "time-decay", false, "apply time-decay weighting to forum matches")
	cmd.Flags().Float64Var(&halfLifeDays, "half-life-days", 0, "time-decay half-life in days (default 365)")
	cmd.Flags().IntVar(&maxPostsPerThread, "max-posts-per-thread", 0, "cap posts shown per thread group (default 10)")
	return cmd
}

func printRetrieveResult(res retrieval.Result) {
	fmt.Println(color.New(color.Bold).Sprintf("%d doc matches, %d thread groups", len(res.DocMatches), len(res.ThreadGroups)))

	if len(res.DocMatches) > 0 {
		tbl := table.New("doc", "score", "source")
		for _, m := range res.DocMatches {
			tbl.AddRow(m.DocTitle, fmt.Sprintf("%.3f", m.Score), m.SourceFile)
		}
		tbl.Print()
	}

	for _, g := range res.ThreadGroups {
		fmt.Println(color.CyanString("\nthread %s (avg score %.3f, %d unique users)", g.ThreadID, g.AvgScore, g.UniqueUsers))
		tbl := table.New("user", "date", "score")
		for _, m := range g.Matches {
			tbl.AddRow(m.Username, m.Date.Format("2006-01-02"), fmt.Sprintf("%.3f", m.Score))
		}
		tbl.Print()
	}

	if len(res.Images) > 0 {
		fmt.Println(color.YellowString("\nimages: %s", strings.Join(res.Images, ", ")))
	}

	fmt.Println(color.New(color.Faint).Sprint("\n--- context ---"))
	fmt.Println(res.Context)
}
