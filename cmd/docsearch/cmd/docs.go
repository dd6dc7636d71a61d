package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/daemon"
	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/output"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Add and delete documents",
		Long: `Schedule document writes. Writes are queued and become searchable after
the index's next periodic commit.`,
	}

	cmd.AddCommand(newDocsAddCmd())
	cmd.AddCommand(newDocsDeleteCmd())

	return cmd
}

func newDocsAddCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Schedule documents for indexing",
		Long: `Read documents as a JSON array of objects, or an object with a "docs"
array, from --file or stdin. The index is created if it does not exist.`,
		Example: `  docsearch docs add books --file books.json
  echo '[{"isbn":"1","title":"Dune"}]' | docsearch docs add books`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer f.Close()
				in = f
			}

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read documents: %w", err)
			}
			docs, err := document.DecodeList(data)
			if err != nil {
				return fmt.Errorf("failed to parse documents: %w", err)
			}

			client, err := connect()
			if err != nil {
				return err
			}
			resp, err := client.IndexDocuments(cmd.Context(), args[0], docs)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file with documents (default: stdin)")
	return cmd
}

func newDocsDeleteCmd() *cobra.Command {
	var (
		query string
		terms []string
	)

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Schedule deletion of matching documents",
		Long: `Delete every document matching a query, or every document whose id
fields equal all the given terms.`,
		Example: `  docsearch docs delete books --query 'year:<1950'
  docsearch docs delete books --term isbn=1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := daemon.DeleteDocumentsParams{
				IndexParams: daemon.IndexParams{Index: args[0]},
				Query:       query,
			}
			if len(terms) > 0 {
				doc, err := parseTerms(terms)
				if err != nil {
					return err
				}
				params.Terms = doc
			}
			if params.Query == "" && params.Terms == nil {
				return fmt.Errorf("one of --query or --term is required")
			}

			client, err := connect()
			if err != nil {
				return err
			}
			resp, err := client.DeleteDocuments(cmd.Context(), params)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Delete documents matching this query")
	cmd.Flags().StringArrayVar(&terms, "term", nil, "Delete documents where field=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("query", "term")

	return cmd
}

// parseTerms turns k=v pairs into a term document. Only pairs naming an
// id field of the index take part in the match.
func parseTerms(pairs []string) (*document.Document, error) {
	doc := document.New()
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid term %q: want field=value", pair)
		}
		doc.Set(k, document.String(v))
	}
	return doc, nil
}
