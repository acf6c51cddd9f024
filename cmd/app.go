package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"quest/cli/internal/config"
	"quest/cli/internal/dsn"
	"quest/cli/internal/engine"
	"quest/cli/internal/keychain"
	"quest/cli/internal/liveness"
	"quest/cli/internal/sqlexec"
)

// DSN sources, checked in this order.
const (
	envDSN         = "QUEST_DSN"
	envDatabaseURL = "DATABASE_URL"
	sourceKeychain = "OS keychain"
)

// errNoConnection is returned when no DSN could be resolved.
var errNoConnection = errors.New("no database connection configured")

// app bundles what a command needs: effective configuration and the logger.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	keys     *keychain.Manager
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.Debug("command started", "cmd", cmd.Name(), "driver", cfg.Driver)
	return &app{cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

func (a *app) close() {
	a.closeLog()
}

// keychain opens the OS keychain on first use.
func (a *app) keychain() (*keychain.Manager, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	km, err := keychain.NewManager(a.logger)
	if err != nil {
		return nil, fmt.Errorf("secure storage is not available: %w", err)
	}
	a.keys = km
	return km, nil
}

// resolvedDSN is a DSN together with where it came from.
type resolvedDSN struct {
	name   string
	raw    string
	source string
}

// resolveDSN finds the DSN to use: QUEST_DSN, then DATABASE_URL, then the keychain entry
// for name or the default connection.
func (a *app) resolveDSN(name string) (resolvedDSN, error) {
	for _, env := range []string{envDSN, envDatabaseURL} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if name == "" {
				name = "env"
			}
			return resolvedDSN{name: name, raw: v, source: env}, nil
		}
	}

	if name == "" {
		def, ok := a.cfg.DefaultConnection()
		if !ok {
			return resolvedDSN{}, errNoConnection
		}
		name = def
	}
	km, err := a.keychain()
	if err != nil {
		return resolvedDSN{}, err
	}
	raw, err := km.LoadDSN(name)
	if errors.Is(err, keychain.ErrNotFound) {
		return resolvedDSN{}, fmt.Errorf("%w: %q is not saved", errNoConnection, name)
	}
	if err != nil {
		return resolvedDSN{}, err
	}
	return resolvedDSN{name: name, raw: raw, source: sourceKeychain}, nil
}

// openConn resolves and opens a connection. The caller closes it.
func (a *app) openConn(ctx context.Context, name string) (sqlexec.Conn, dsn.DBType, error) {
	r, err := a.resolveDSN(name)
	if err != nil {
		return nil, dsn.DBTypeUnknown, err
	}
	conn, err := sqlexec.NewConn(a.cfg.Driver, r.name, r.raw, a.logger)
	if err != nil {
		return nil, dsn.DBTypeUnknown, err
	}
	if err := conn.Open(ctx); err != nil {
		return nil, dsn.DBTypeUnknown, err
	}
	a.logger.Info("connection opened", "conn", conn.Key(), "source", r.source)
	return conn, dsn.DetectDBType(r.raw), nil
}

func (a *app) engineConfig() engine.Config {
	return engine.Config{
		PageSize:   a.cfg.Engine.PageSize,
		Workers:    a.cfg.Engine.Workers,
		CloseGrace: a.cfg.CloseGrace(),
	}
}

func (a *app) livenessConfig() liveness.Config {
	return liveness.Config{
		ProbeTimeout: a.cfg.ProbeTimeout(),
		Interval:     a.cfg.CheckInterval(),
		Parallelism:  a.cfg.Liveness.Parallelism,
	}
}
