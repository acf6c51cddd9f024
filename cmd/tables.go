package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"quest/cli/internal/engine"
	"quest/cli/internal/results"
	"quest/cli/internal/sqlexec"
)

var (
	tablesConn   string
	tablesSchema string
)

// tablesCmd lists the tables of a schema; the catalog query runs through the engine like
// any other statement.
var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables",
	Long: `The tables command lists the tables of a schema. Without --schema every user table is
listed. QuestDB has no schemas and lists its tables together with the designated timestamp
and partitioning.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conn, dbType, err := a.openConn(ctx, tablesConn)
		if err != nil {
			return connectionHint(err)
		}
		defer conn.Close()

		sql, qargs, err := sqlexec.NewCatalog(dbType).Tables(tablesSchema)
		if err != nil {
			return err
		}
		a.logger.Debug("catalog query", "sql", sql, "db", dbType)

		buf := results.NewBuffer(a.cfg.DisplayRows)
		view := newResultView(buf, a.logger)
		eng := engine.New(a.engineConfig(), view, a.logger)
		defer eng.Close()

		if err := reportOutcome(execute(ctx, eng, view, sqlexec.NewRequest("tables", conn, sql, qargs...))); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		return show(buf, 0, true, false)
	},
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.Flags().StringVarP(&tablesConn, "conn", "c", "", "Saved connection to use (default connection if empty)")
	tablesCmd.Flags().StringVarP(&tablesSchema, "schema", "s", "", "Schema to list")
}
