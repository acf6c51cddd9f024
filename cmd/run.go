package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"quest/cli/internal/engine"
	"quest/cli/internal/results"
	"quest/cli/internal/sqlexec"
)

var (
	runConn string
	runFile string
	runPage int
	runAll  bool
	runJSON bool
)

// runCmd executes a single statement through the engine and renders its result.
var runCmd = &cobra.Command{
	Use:   "run [SQL]",
	Short: "Execute one SQL statement",
	Long: `The run command executes one statement on a saved connection and prints the result.
The statement comes from the argument, from --file, or from stdin when --file is "-".
Press Ctrl-C to cancel a running statement.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := statementFrom(args, runFile)
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conn, _, err := a.openConn(ctx, runConn)
		if err != nil {
			return connectionHint(err)
		}
		defer conn.Close()

		buf := results.NewBuffer(a.cfg.DisplayRows)
		view := newResultView(buf, a.logger)
		eng := engine.New(a.engineConfig(), view, a.logger)
		defer eng.Close()

		if err := reportOutcome(execute(ctx, eng, view, sqlexec.NewRequest("run", conn, sql))); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		return show(buf, runPage, runAll, runJSON)
	},
}

// statementFrom returns the SQL given as argument or read from file; "-" reads stdin.
func statementFrom(args []string, file string) (string, error) {
	var sql string
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("give the statement either as argument or with --file")
	case len(args) == 1:
		sql = args[0]
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		sql = string(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		sql = string(b)
	}
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", errors.New("no SQL statement given")
	}
	return sql, nil
}

// show renders buf: one page, every page, or every row as JSON.
func show(buf *results.Buffer, page int, all, asJSON bool) error {
	if asJSON {
		return results.RenderJSON(os.Stdout, buf)
	}
	if page > 0 {
		buf.SetPage(page)
	}
	if err := results.Render(os.Stdout, buf); err != nil {
		return err
	}
	for all && buf.Advance() {
		if err := results.Render(os.Stdout, buf); err != nil {
			return err
		}
	}
	return nil
}

// connectionHint prints how to configure a connection when none could be resolved.
func connectionHint(err error) error {
	if errors.Is(err, errNoConnection) {
		pterm.Warning.Println(err.Error())
		pterm.Println("   Please run 'quest connect <name>' or set QUEST_DSN")
	}
	return err
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVarP(&runConn, "conn", "c", "", "Saved connection to use (default connection if empty)")
	f.StringVarP(&runFile, "file", "f", "", `Read the statement from a file, "-" for stdin`)
	f.IntVar(&runPage, "page", 0, "Display page to show (1-based)")
	f.BoolVar(&runAll, "all", false, "Show every display page")
	f.BoolVar(&runJSON, "json", false, "Print rows as JSON")
}
