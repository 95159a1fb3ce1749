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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/btrbak/btrbak/internal/config"
	"github.com/btrbak/btrbak/internal/coordinator"
	"github.com/btrbak/btrbak/internal/endpoint"
	"github.com/btrbak/btrbak/internal/metrics"
	"github.com/btrbak/btrbak/internal/scheduler"
)

// ExitError carries the process exit code a failed run should produce, per
// spec §6: 1 for a failed transfer or unavailable destination, 2 for
// invalid arguments or an unparseable journal, 3 for a failed source
// snapshot.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func newRunCommand() *cobra.Command {
	rc := &config.Run{}

	cmd := &cobra.Command{
		Use:   "run SOURCE DEST...",
		Short: "Snapshot a subvolume and replicate it to one or more destinations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc.Source = args[0]
			rc.Destinations = args[1:]
			rc.Merge(defaults)
			rc.Verbosity = verbosity
			if err := rc.Validate(); err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			if rc.Schedule != "" {
				return scheduler.Run(cmd.Context(), rc.Schedule, func(ctx context.Context) error {
					return runOnce(ctx, rc)
				}, logger)
			}
			return runOnce(cmd.Context(), rc)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&rc.SnapshotPrefix, "snapshot-prefix", "p", "", "Prefix for snapshot basenames")
	flags.StringVarP(&rc.SnapshotFolder, "snapshot-folder", "f", "", "Directory under the source subvolume where snapshots are created")
	flags.IntVarP(&rc.RetainSourceCount, "num-snapshots", "N", 0, "Source retention count; 0 keeps all")
	flags.IntVarP(&rc.RetainDestinationCount, "num-backups", "n", 0, "Per-destination retention count; 0 keeps all")
	flags.BoolVar(&rc.NoSnapshot, "no-snapshot", false, "Skip snapshot creation")
	flags.BoolVar(&rc.NoTransfer, "no-transfer", false, "Skip transfers (cleanup and retention still run)")
	flags.BoolVar(&rc.LockedDestsOnly, "locked-dests", false, "Expand destinations from the lock journal")
	flags.BoolVar(&rc.RemoveLocks, "remove-locks", false, "Drop matching lock entries without cleanup or retransfer")
	flags.BoolVar(&rc.Progress, "progress", false, "Interpose pv between sender and receiver when available")
	flags.StringVar(&rc.Compress, "compress", "", "Stream codec for shell/directory destinations: none or zstd")
	flags.StringVar(&rc.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics at ADDR until the run completes")
	flags.StringVar(&rc.Schedule, "schedule", "", "Run immediately, then again on every cron match")
	flags.StringVar(&rc.SSHUser, "ssh-user", "", "Default SSH user for ssh:// destinations")
	flags.StringVar(&rc.SSHIdentityFile, "ssh-identity-file", "", "Default SSH identity file for ssh:// destinations")
	flags.StringVar(&rc.SSHKnownHosts, "ssh-known-hosts", "", "Default SSH known_hosts file for ssh:// destinations")
	flags.StringVar(&rc.SSHPort, "ssh-port", "", "Default SSH port for ssh:// destinations")
	flags.BoolVar(&rc.RequireDestDir, "require-dest-dir", false, "Fail with EndpointUnavailable instead of treating a missing destination directory as empty")
	bindEnv(flags)

	return cmd
}

func bindEnv(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		v.BindPFlag(f.Name, f)
	})
}

func runOnce(ctx context.Context, rc *config.Run) error {
	var rec metrics.Recorder = metrics.NoOp{}
	if rc.MetricsAddr != "" {
		prom := metrics.NewPrometheus()
		rec = prom
		go func() {
			if err := prom.Serve(rc.MetricsAddr); err != nil {
				logger.LogVerbose(0, "Metrics server stopped: %v\n", err)
			}
		}()
	}

	source, err := endpoint.NewLocalSource(rc.Source, rc.SnapshotFolder, rc.SnapshotPrefix, logger)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer source.Close()

	destinations, err := resolveDestinations(ctx, rc.Destinations, rc, logger)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer func() {
		for _, d := range destinations {
			d.Close()
		}
	}()

	resolver := func(ctx context.Context, key string) (endpoint.Receiver, error) {
		return resolveDestination(ctx, key, rc, logger)
	}

	opts := coordinator.Options{
		Prefix:                 rc.SnapshotPrefix,
		CreateSnapshot:         !rc.NoSnapshot,
		DoTransfer:             !rc.NoTransfer,
		RetainSourceCount:      rc.RetainSourceCount,
		RetainDestinationCount: rc.RetainDestinationCount,
		LockedDestsOnly:        rc.LockedDestsOnly,
		RemoveLocks:            rc.RemoveLocks,
		Progress:               rc.Progress,
		RequireDestDir:         rc.RequireDestDir,
	}

	result, err := coordinator.Run(ctx, source, destinations, resolver, opts, logger, rec)
	if err != nil {
		var cerr *coordinator.Error
		if errors.As(err, &cerr) {
			switch cerr.Kind {
			case coordinator.KindCorruptJournal:
				return &ExitError{Code: 2, Err: err}
			case coordinator.KindSnapshotExists:
				return &ExitError{Code: 3, Err: err}
			default:
				return &ExitError{Code: 1, Err: err}
			}
		}
		return &ExitError{Code: 1, Err: err}
	}

	if len(result.TransferFailures) > 0 || len(result.UnavailableDests) > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("run completed with %d failed transfer(s) and %d unavailable destination(s)",
			len(result.TransferFailures), len(result.UnavailableDests))}
	}
	return nil
}
