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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/btrbak/btrbak/internal/config"
	"github.com/btrbak/btrbak/internal/endpoint"
	"github.com/btrbak/btrbak/internal/journal"
)

func newStatusCommand() *cobra.Command {
	rc := &config.Run{}

	cmd := &cobra.Command{
		Use:   "status SOURCE DEST...",
		Short: "Print the snapshot chain and lock state without transferring anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc.Source = args[0]
			rc.Destinations = args[1:]
			rc.Merge(defaults)
			return runStatus(cmd, rc)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&rc.SnapshotPrefix, "snapshot-prefix", "p", "", "Prefix for snapshot basenames")
	flags.StringVarP(&rc.SnapshotFolder, "snapshot-folder", "f", "", "Directory under the source subvolume where snapshots are created")
	flags.StringVar(&rc.SSHUser, "ssh-user", "", "Default SSH user for ssh:// destinations")
	flags.StringVar(&rc.SSHIdentityFile, "ssh-identity-file", "", "Default SSH identity file for ssh:// destinations")
	flags.StringVar(&rc.SSHKnownHosts, "ssh-known-hosts", "", "Default SSH known_hosts file for ssh:// destinations")
	flags.StringVar(&rc.SSHPort, "ssh-port", "", "Default SSH port for ssh:// destinations")
	bindEnv(flags)

	return cmd
}

func runStatus(cmd *cobra.Command, rc *config.Run) error {
	ctx := cmd.Context()

	source, err := endpoint.NewLocalSource(rc.Source, rc.SnapshotFolder, rc.SnapshotPrefix, logger)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer source.Close()

	sourceSet, err := source.List(ctx, rc.SnapshotPrefix)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	j, err := journal.Load(source.SnapshotDir())
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	locked := j.LockedBasenames()

	destinations, err := resolveDestinations(ctx, rc.Destinations, rc, logger)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer func() {
		for _, d := range destinations {
			d.Close()
		}
	}()

	treeprint.IndentSize = 4
	tree := treeprint.NewWithRoot(rc.Source)

	destSets := make([]endpointSnapshots, len(destinations))
	for i, d := range destinations {
		set, err := d.List(ctx, rc.SnapshotPrefix)
		if err != nil {
			destSets[i] = endpointSnapshots{key: d.Key(), err: err}
			continue
		}
		destSets[i] = endpointSnapshots{key: d.Key(), set: set}
	}

	for _, basename := range sourceSet.Sorted() {
		label := basename
		if _, ok := locked[basename]; ok {
			var dests []string
			for _, ds := range destSets {
				if j.Locked(basename, ds.key) {
					dests = append(dests, ds.key)
				}
			}
			label = fmt.Sprintf("%s [locked: %v]", basename, dests)
		}
		node := tree.AddBranch(label)
		for _, ds := range destSets {
			if ds.err != nil {
				continue
			}
			if ds.set.Contains(basename) {
				node.AddNode(ds.key)
			}
		}
	}

	for _, ds := range destSets {
		if ds.err != nil {
			tree.AddNode(fmt.Sprintf("%s [unavailable: %v]", ds.key, ds.err))
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), tree.String())
	return nil
}

type endpointSnapshots struct {
	key string
	set interface {
		Contains(string) bool
	}
	err error
}
