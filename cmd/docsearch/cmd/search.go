package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/daemon"
	"github.com/Aman-CERP/docsearch/internal/engine"
	"github.com/Aman-CERP/docsearch/internal/output"
)

func newSearchCmd() *cobra.Command {
	var (
		req        engine.SearchRequest
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search NAME [QUERY]",
		Short: "Search an index",
		Long: `Search an index with query-string syntax. An empty query matches every
document. Results show stored fields only; pass the printed bookmark to
--bookmark to fetch the next page.`,
		Example: `  docsearch search books 'title:dune'
  docsearch search books 'year:>=1960' --limit 5
  docsearch search books --bookmark eyJvIjo1LCJsIjo1fQ`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				req.Query = args[1]
			}
			client, err := connect()
			if err != nil {
				return err
			}
			res, err := client.Search(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(res)
			}
			printHits(out, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&req.Start, "start", 0, "Offset of the first hit")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "Page size (default: engine.default_page_size)")
	cmd.Flags().StringVar(&req.Bookmark, "bookmark", "", "Continue from a previous page")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// printHits renders one page as a table whose columns are the stored
// fields in order of first appearance.
func printHits(out *output.Writer, res *daemon.SearchResult) {
	out.Statusf("", "%d hit(s), showing %d from %d", res.Total, len(res.Docs), res.Start)
	if len(res.Docs) == 0 {
		return
	}

	var columns []string
	seen := make(map[string]int)
	for _, doc := range res.Docs {
		for _, f := range doc.Fields() {
			if _, ok := seen[f.Name]; !ok {
				seen[f.Name] = len(columns)
				columns = append(columns, f.Name)
			}
		}
	}

	rows := make([][]string, 0, len(res.Docs))
	for _, doc := range res.Docs {
		row := make([]string, len(columns))
		for _, f := range doc.Fields() {
			row[seen[f.Name]] = f.Value.Text()
		}
		rows = append(rows, row)
	}

	out.Newline()
	out.Table(columns, rows)
	if res.Bookmark != "" {
		out.Newline()
		out.Dim("next page: --bookmark " + res.Bookmark)
	}
}
