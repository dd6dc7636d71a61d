package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/daemon"
	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/schema"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Create and truncate indexes",
	}

	cmd.AddCommand(newIndexCreateCmd())
	cmd.AddCommand(newIndexTruncateCmd())

	return cmd
}

func newIndexCreateCmd() *cobra.Command {
	var (
		fields   []string
		override bool
		secret   string
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an index or merge fields into its schema",
		Long: `Create an index, or merge new fields into an existing index's schema.

Each --field is name:type[:store][:index] where type is one of id, string,
long or double and store/index are true or false. Without --override,
fields already in the schema keep their definition and the secret is
left unchanged.`,
		Example: `  docsearch index create books --field isbn:id --field title:string:true --field year:long
  docsearch index create books --field title:string:true:false --override`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexCreate(cmd.Context(), cmd, args[0], fields, override, secret)
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "Field as name:type[:store][:index] (repeatable)")
	cmd.Flags().BoolVar(&override, "override", false, "Replace existing field definitions and the secret")
	cmd.Flags().StringVar(&secret, "secret", "", "Index secret")

	return cmd
}

func newIndexTruncateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "truncate NAME",
		Short: "Schedule removal of every document in an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}
			resp, err := client.TruncateIndex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(resp.Message)
			return nil
		},
	}
}

func runIndexCreate(ctx context.Context, cmd *cobra.Command, name string, specs []string, override bool, secret string) error {
	fields := make(map[string]schema.FieldInput, len(specs))
	for _, spec := range specs {
		fieldName, in, err := parseField(spec)
		if err != nil {
			return err
		}
		fields[fieldName] = in
	}

	client, err := connect()
	if err != nil {
		return err
	}
	resp, err := client.CreateIndex(ctx, daemon.CreateIndexParams{
		IndexParams: daemon.IndexParams{Index: name},
		Fields:      fields,
		Override:    override,
		Secret:      secret,
	})
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("Index [%s]: %s", name, resp.Message)
	return nil
}

// parseField parses name:type[:store][:index]. Empty flags keep the
// type's default.
func parseField(spec string) (string, schema.FieldInput, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return "", schema.FieldInput{}, fmt.Errorf("invalid field %q: want name:type[:store][:index]", spec)
	}

	in := schema.FieldInput{Type: parts[1]}
	flag := func(i int, what string) (*bool, error) {
		if len(parts) <= i || parts[i] == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(parts[i])
		if err != nil {
			return nil, fmt.Errorf("invalid field %q: %s must be true or false", spec, what)
		}
		return &b, nil
	}

	var err error
	if in.Store, err = flag(2, "store"); err != nil {
		return "", schema.FieldInput{}, err
	}
	if in.Index, err = flag(3, "index"); err != nil {
		return "", schema.FieldInput{}, err
	}
	return parts[0], in, nil
}
