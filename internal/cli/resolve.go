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

// Package cli wires cobra commands onto the coordinator, mirroring the
// teacher's pkg/cmd package but generalized to this codebase's single-source,
// N-destination run model instead of a multi-volume config tree.
package cli

import (
	"context"
	"fmt"

	"github.com/btrbak/btrbak/internal/config"
	"github.com/btrbak/btrbak/internal/endpoint"
	"github.com/btrbak/btrbak/internal/logging"
)

// resolveDestination turns a raw destination string into a live
// endpoint.Receiver, constructing the concrete type that matches its scheme
// and applying the run's SSH/compression defaults.
func resolveDestination(ctx context.Context, raw string, rc *config.Run, lg *logging.Logger) (endpoint.Receiver, error) {
	spec, err := endpoint.ParseDestination(raw)
	if err != nil {
		return nil, err
	}
	switch spec.Scheme {
	case "file":
		if rc.Compress != "" && rc.Compress != "none" {
			return endpoint.NewDirectoryBackup(spec.Path, rc.Compress, rc.RequireDestDir, lg)
		}
		return endpoint.NewLocalBackup(spec.Path, rc.RequireDestDir, lg)
	case "ssh":
		opts := endpoint.SSHOptions{
			User:         rc.SSHUser,
			Port:         rc.SSHPort,
			IdentityFile: rc.SSHIdentityFile,
			KnownHosts:   rc.SSHKnownHosts,
		}
		return endpoint.NewSshBackup(ctx, spec, opts, rc.RequireDestDir, lg)
	case "shell":
		return endpoint.NewShellBackup(spec, rc.Compress, lg), nil
	default:
		return nil, fmt.Errorf("cli: unsupported destination scheme %q", spec.Scheme)
	}
}

// resolveDestinations resolves every raw destination string in order,
// closing any already-opened endpoint and returning the first error
// encountered (a destination that can't even be dialed/parsed is treated as
// a fatal argument error per spec §6, not a per-run skip -- skipping happens
// only for destinations that go unavailable once the run is already under
// way).
func resolveDestinations(ctx context.Context, raws []string, rc *config.Run, lg *logging.Logger) ([]endpoint.Receiver, error) {
	out := make([]endpoint.Receiver, 0, len(raws))
	for _, raw := range raws {
		dest, err := resolveDestination(ctx, raw, rc, lg)
		if err != nil {
			for _, opened := range out {
				opened.Close()
			}
			return nil, err
		}
		out = append(out, dest)
	}
	return out, nil
}
