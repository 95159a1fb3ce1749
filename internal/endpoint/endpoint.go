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

// Package endpoint defines the polymorphic endpoint abstraction the
// coordinator drives: an ordered set of snapshots at one location with
// list/receive/delete primitives, plus a source variant that additionally
// creates snapshots and produces send streams.
package endpoint

import (
	"context"
	"io"

	"github.com/btrbak/btrbak/internal/catalog"
)

// Kind distinguishes error causes raised by endpoint operations so the
// coordinator can apply the recovery policy of spec §7 without inspecting
// error strings.
type Kind int

const (
	// KindUnavailable is returned by List on an I/O or connection error.
	KindUnavailable Kind = iota
	// KindTransferFailed is returned by Receive on non-zero receiver exit
	// or a closed stream.
	KindTransferFailed
)

// Error wraps an endpoint failure with its Kind and the endpoint/snapshot it
// concerns, so callers can both errors.Is a kind and log the offending edge.
type Error struct {
	Kind     Kind
	Endpoint string
	Basename string
	Err      error
}

func (e *Error) Error() string {
	if e.Basename != "" {
		return e.Endpoint + ": " + e.Basename + ": " + e.Err.Error()
	}
	return e.Endpoint + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Endpoint is the capability set common to every location: it can be listed
// and pruned. Source and Receiver narrow it further.
type Endpoint interface {
	// Key is the stable identity used in the lock journal: the destination
	// string as given (an absolute local path, an ssh:// URL or a shell://
	// command); for a source, its snapshot directory.
	Key() string
	// Writable reports whether this endpoint tracks state at all. A
	// write-only (shell) endpoint always reports false: its List always
	// returns an empty set and its Delete is a no-op, forcing a full send
	// every run.
	Writable() bool
	// List enumerates snapshots matching prefix. Returns a KindUnavailable
	// Error on I/O failure.
	List(ctx context.Context, prefix string) (catalog.Set, error)
	// Delete removes a snapshot. Silently succeeds if already absent.
	Delete(ctx context.Context, basename string) error
	// Close releases any held resources (e.g. an open SSH connection).
	Close() error
}

// Receiver is an endpoint capable of receiving a send stream: the local
// backup, SSH backup, and shell (write-only) variants.
type Receiver interface {
	Endpoint
	// Receive consumes stream and materializes a snapshot named basename,
	// incremental against parent when parent is non-empty (parent is only
	// observed by the shell endpoint, which exposes it to the user command
	// as BTRBAK_PARENT; btrfs receive itself recovers the parent from the
	// stream). progress requests pv interposition when available. Returns
	// a KindTransferFailed Error on non-zero receiver exit.
	Receive(ctx context.Context, stream io.Reader, basename, parent string, progress bool) error
}

// SendStream is a running producer of a btrfs send stream.
type SendStream struct {
	Reader io.Reader
	// Wait blocks until the underlying process exits, returning any error
	// (including captured stderr).
	Wait func() error
}

// Source is the sole owner of the snapshot directory and lock journal: it
// creates new snapshots and produces the streams sent to every destination.
type Source interface {
	Endpoint
	// Snapshot creates a read-only snapshot named basename. Returns an
	// error wrapping os.ErrExist-like semantics when basename already
	// exists (surfaced by the coordinator as SnapshotExists).
	Snapshot(ctx context.Context, basename string) error
	// Send produces a send stream for basename, incremental against parent
	// when parent is non-empty.
	Send(ctx context.Context, basename, parent string) (*SendStream, error)
	// SnapshotDir returns the directory snapshots and the lock journal live
	// in, for journal.Load/Entries callers.
	SnapshotDir() string
}
