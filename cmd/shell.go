package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"quest/cli/internal/engine"
	"quest/cli/internal/liveness"
	"quest/cli/internal/logging"
	"quest/cli/internal/results"
	"quest/cli/internal/sqlexec"
)

var shellConn string

// shellSource is the source key of statements typed in the shell; a new statement
// supersedes one still running.
const shellSource = "shell"

const shellHelp = `Statements end with ";". Commands:
  \n  next page      \p  previous page
  \dt list tables    \d <table> describe table
  \c  reconnect      \q  quit
  \?  this help`

// shellCmd runs an interactive read-execute-print loop. The liveness checker probes the
// connection in the background while the shell waits for input.
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive SQL shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		conn, dbType, err := a.openConn(ctx, shellConn)
		if err != nil {
			return connectionHint(err)
		}
		defer conn.Close()

		buf := results.NewBuffer(a.cfg.DisplayRows)
		view := newResultView(buf, a.logger)
		eng := engine.New(a.engineConfig(), view, a.logger)
		defer eng.Close()

		checker := liveness.New(a.livenessConfig(), func() []sqlexec.Conn { return []sqlexec.Conn{conn} }, view, a.logger)
		checker.Start()
		defer checker.Close()

		pterm.Info.Printfln("Connected to %s", conn.Key())
		pterm.Println(pterm.FgGray.Sprint(shellHelp))

		sh := &shell{ctx: ctx, eng: eng, view: view, buf: buf, conn: conn, catalog: sqlexec.NewCatalog(dbType)}
		return sh.loop(bufio.NewScanner(os.Stdin))
	},
}

type shell struct {
	ctx     context.Context
	eng     *engine.Engine
	view    *resultView
	buf     *results.Buffer
	conn    sqlexec.Conn
	catalog *sqlexec.Catalog
}

func (s *shell) loop(in *bufio.Scanner) error {
	var stmt strings.Builder
	for {
		if stmt.Len() == 0 {
			fmt.Print("quest> ")
		} else {
			fmt.Print("   ..> ")
		}
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())

		if stmt.Len() == 0 && strings.HasPrefix(line, `\`) {
			if quit := s.command(line); quit {
				return nil
			}
			continue
		}
		if line == "" {
			continue
		}

		stmt.WriteString(line)
		stmt.WriteString("\n")
		if strings.HasSuffix(line, ";") {
			sql := strings.TrimSuffix(strings.TrimSpace(stmt.String()), ";")
			stmt.Reset()
			s.run(sql)
		}
	}
}

// command handles a backslash command and reports whether the shell should exit.
func (s *shell) command(line string) bool {
	switch line {
	case `\q`:
		return true
	case `\n`:
		if !s.buf.Advance() {
			pterm.Info.Println("Already on the last page")
			return false
		}
		s.render()
	case `\p`:
		if !s.buf.Retreat() {
			pterm.Info.Println("Already on the first page")
			return false
		}
		s.render()
	case `\c`:
		s.reconnect()
	case `\dt`:
		sql, args, err := s.catalog.Tables("")
		if err != nil {
			pterm.Error.Println(err.Error())
			return false
		}
		s.run(sql, args...)
	case `\?`:
		pterm.Println(shellHelp)
	default:
		if table, ok := strings.CutPrefix(line, `\d `); ok {
			sql, args, err := s.catalog.Columns(strings.TrimSpace(table))
			if err != nil {
				pterm.Error.Println(err.Error())
				return false
			}
			s.run(sql, args...)
			return false
		}
		pterm.Warning.Printfln("Unknown command %s", line)
	}
	return false
}

func (s *shell) run(sql string, args ...any) {
	ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt)
	defer stop()

	if err := execute(ctx, s.eng, s.view, sqlexec.NewRequest(shellSource, s.conn, sql, args...)); err != nil {
		_ = reportOutcome(err)
		return
	}
	s.render()
}

func (s *shell) render() {
	if err := results.Render(os.Stdout, s.buf); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func (s *shell) reconnect() {
	if s.conn.IsOpen() {
		pterm.Info.Println("Connection is open")
		return
	}
	if err := s.conn.Open(s.ctx); err != nil {
		logging.PresentQueryError(err)
		return
	}
	pterm.Success.Printfln("Reconnected to %s", s.conn.Key())
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().StringVarP(&shellConn, "conn", "c", "", "Saved connection to use (default connection if empty)")
}
