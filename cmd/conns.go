// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"quest/cli/internal/config"
	"quest/cli/internal/keychain"
	"quest/cli/internal/logging"
)

var connsRemove string

// connsCmd lists saved connections with their passwords masked.
var connsCmd = &cobra.Command{
	Use:   "conns",
	Short: "List saved database connections",
	Long: `The conns command lists the saved connections with passwords masked. A DSN given
through QUEST_DSN or DATABASE_URL takes precedence over saved connections and is shown first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if connsRemove != "" {
			return removeConnection(a, connsRemove)
		}

		for _, env := range []string{envDSN, envDatabaseURL} {
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				pterm.Info.Printfln("Using DSN from %s environment variable: %s", env, logging.Mask(v))
				pterm.Println()
				break
			}
		}

		if len(a.cfg.Connections) == 0 {
			pterm.Warning.Println("No saved connections")
			pterm.Println("   Please run: quest connect <name>")
			return nil
		}

		km, err := a.keychain()
		if err != nil {
			return err
		}
		data := pterm.TableData{{"", "NAME", "DSN"}}
		for _, c := range a.cfg.Connections {
			marker := ""
			if def, _ := a.cfg.DefaultConnection(); def == c.Name {
				marker = "*"
			}
			masked := pterm.FgGray.Sprint("(missing from keychain)")
			if raw, err := km.LoadDSN(c.Name); err == nil {
				masked = logging.Mask(raw)
			} else if !errors.Is(err, keychain.ErrNotFound) {
				return err
			}
			data = append(data, []string{marker, c.Name, masked})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func removeConnection(a *app, name string) error {
	km, err := a.keychain()
	if err != nil {
		return err
	}
	if err := km.DeleteDSN(name); err != nil && !errors.Is(err, keychain.ErrNotFound) {
		return err
	}
	if !a.cfg.RemoveConnection(name) {
		return fmt.Errorf("no saved connection named %q", name)
	}
	if err := config.Save(a.cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	pterm.Success.Printfln("Connection %s removed", name)
	return nil
}

func init() {
	rootCmd.AddCommand(connsCmd)
	connsCmd.Flags().StringVar(&connsRemove, "remove", "", "Remove the named connection")
}
