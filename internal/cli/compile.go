package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waypointhq/waypoint/internal/query"
	"github.com/waypointhq/waypoint/internal/queryjson"
	"github.com/waypointhq/waypoint/internal/querysql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Shape     string
	Dialect   string
	Workspace string
	Journey   string
	Step      string
	Customer  string
}

// compileResult is the compile command's output payload.
type compileResult struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

func (r compileResult) String() string {
	var b strings.Builder
	b.WriteString(r.SQL)
	b.WriteString("\n")
	for i, arg := range r.Args {
		fmt.Fprintf(&b, "  $%d = %v\n", i+1, arg)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewCompileCommand creates the compile command: it compiles a
// segmentation query payload to SQL without touching a database.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <payload.json>",
		Short: "Compile a segmentation query to SQL",
		Long: `Compile a segmentation query payload to SQL and print the statement.

The payload is the wire JSON query format, optionally wrapped in an
inclusionCriteria envelope. Pass "-" to read from stdin.

Example:
  waypoint compile --workspace ws_1 segment.json
  waypoint compile --workspace ws_1 --shape count --customer cust_1 segment.json
  waypoint compile --workspace ws_1 --shape insert --journey j_1 --step step_start segment.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Shape, "shape", "select", "output shape (select|count|insert)")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "postgres", "SQL dialect (postgres|sqlite)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id (required)")
	cmd.Flags().StringVar(&opts.Journey, "journey", "", "journey id (insert shape)")
	cmd.Flags().StringVar(&opts.Step, "step", "", "start step id (insert shape)")
	cmd.Flags().StringVar(&opts.Customer, "customer", "", "customer id (narrows count shape)")
	_ = cmd.MarkFlagRequired("workspace")

	return cmd
}

func runCompile(opts *CompileOptions, payloadPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	shape, err := parseShape(opts.Shape)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid shape", err)
	}

	dialect, err := parseDialect(opts.Dialect)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid dialect", err)
	}

	payload, err := readPayload(payloadPath, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	qctx := query.Context{query.CtxWorkspaceID: opts.Workspace}
	if opts.Journey != "" {
		qctx[query.CtxJourneyID] = opts.Journey
	}
	if opts.Step != "" {
		qctx[query.CtxStepID] = opts.Step
	}
	if opts.Customer != "" {
		qctx[query.CtxCustomerID] = opts.Customer
	}

	q, err := queryjson.ToQuery(payload, qctx)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid query payload", err)
	}
	q.Shape = shape

	resolved, err := query.Resolve(q)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "query resolution failed", err)
	}

	stmt, err := (&querysql.Compiler{Dialect: dialect}).Compile(resolved)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}

	args := stmt.Args
	if args == nil {
		args = []any{}
	}
	return formatter.Success(compileResult{SQL: stmt.SQL, Args: args})
}

func parseShape(s string) (query.Shape, error) {
	switch s {
	case "select":
		return query.ShapeSelect, nil
	case "count":
		return query.ShapeCount, nil
	case "insert":
		return query.ShapeInsertLocations, nil
	}
	return 0, fmt.Errorf("unknown shape %q: want select, count or insert", s)
}

func parseDialect(s string) (querysql.Dialect, error) {
	switch s {
	case "postgres":
		return querysql.DialectPostgres, nil
	case "sqlite":
		return querysql.DialectSQLite, nil
	}
	return 0, fmt.Errorf("unknown dialect %q: want postgres or sqlite", s)
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
