/*
This file is part of btrbak.

Btrbak is free software: you can redistribute it and/or modify it under the terms of the
GNU Lesser General Public License as published by the Free Software Foundation, either
version 3 of the License, or (at your option) any later version.

Btrbak is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
See the GNU Lesser General Public License for more details.

You should have received a copy of the GNU Lesser General Public License along with btrbak.
If not, see <https://www.gnu.org/licenses/>.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/btrbak/btrbak/internal/argsplice"
	"github.com/btrbak/btrbak/internal/config"
	"github.com/btrbak/btrbak/internal/logging"
)

var (
	v         = viper.New()
	envPrefix = "BTRBAK"
	cfgFile   string
	verbosity int
	quiet     bool
	defaults  = config.NewDefaults()
	logger    = logging.NewStderr(0)
)

// Execute runs the root command, splicing @file arguments into os.Args
// before cobra ever sees them, and translates a returned ExitError into the
// matching process exit code per spec §6. A SIGINT or SIGTERM cancels the
// context threaded through every cmd.Context() consumer (the coordinator's
// os/exec children, the scheduler loop, the SSH session), so a live child
// process is killed and the journal is left in a consistent state rather
// than the process dying mid-transfer.
func Execute(version string) {
	args, err := argsplice.Expand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(version)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(2)
	}
	if ctx.Err() != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree: run (the coordinator), status
// (read-only inspection), version.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:               "btrbak [flags] SOURCE DEST...",
		Short:             "Incrementally snapshot and replicate btrfs subvolumes",
		SilenceErrors:     true,
		SilenceUsage:      true,
		Version:           version,
		PersistentPreRunE: initConfig,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Defaults file (TOML)")
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Verbosity level (can be used multiple times)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all but error-level logging")

	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand(version))

	return root
}

func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if cfgdir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(cfgdir, "btrbak"))
		}
		v.AddConfigPath("/etc/btrbak")
		v.SetConfigType("toml")
		v.SetConfigName("btrbak.toml")
	}

	if err := v.ReadInConfig(); err == nil {
		if err := v.Unmarshal(defaults, viper.DecodeHook(config.DestinationHookFunc())); err != nil {
			return err
		}
		logger.LogVerbose(1, "Using config file: %s\n", v.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if quiet {
		verbosity = -1
	}
	logger.SetVerbosity(verbosity)

	return nil
}
