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

// Package coordinator drives one run: load the lock journal, expand
// destinations, clean corrupt snapshots, create a snapshot, plan transfers,
// execute them, then apply retention. It is the core of this codebase; every
// other package exists to serve it.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/btrbak/btrbak/internal/catalog"
	"github.com/btrbak/btrbak/internal/endpoint"
	"github.com/btrbak/btrbak/internal/journal"
	"github.com/btrbak/btrbak/internal/metrics"
	"github.com/btrbak/btrbak/internal/retention"
)

// Logger receives run tracing via the LogVerbose convention used throughout
// this codebase.
type Logger interface {
	LogVerbose(level int, format string, args ...interface{})
}

// Options bundles the per-run policy flags of the CLI surface.
type Options struct {
	Prefix                 string
	CreateSnapshot         bool
	DoTransfer             bool
	RetainSourceCount      int
	RetainDestinationCount int
	LockedDestsOnly        bool
	RemoveLocks            bool
	Progress               bool
	// RequireDestDir records the --require-dest-dir setting of the run; Run
	// itself does not read it. The setting takes effect in the endpoints:
	// those constructed with it set report a missing directory as an error
	// from List instead of silently reporting it empty, and Run skips any
	// destination whose List fails, recording it in Result.UnavailableDests.
	RequireDestDir bool
}

// DestinationResolver resolves a bare destination key (as stored in the lock
// journal) back into a live endpoint, used to expand the destination set
// under LockedDestsOnly. Unknown or unreachable keys should return an error;
// the coordinator logs a warning and skips them rather than failing the run.
type DestinationResolver func(ctx context.Context, key string) (endpoint.Receiver, error)

// TransferFailure records one failed (snapshot, destination) edge for
// end-of-run reporting.
type TransferFailure struct {
	Basename    string
	Destination string
	Err         error
}

// Result summarizes a completed run. A non-nil fatal error (SnapshotExists,
// CorruptJournal) is returned separately by Run and takes precedence over
// Result entirely.
type Result struct {
	CreatedSnapshot   string
	TransferFailures  []TransferFailure
	UnavailableDests  []string
	EarlyExit         bool // set when RemoveLocks caused step 3 to terminate the run
}

// Run executes one complete coordinator pass against source and the named
// destinations, per the algorithm of this codebase's component design.
func Run(ctx context.Context, source endpoint.Source, destinations []endpoint.Receiver, resolver DestinationResolver, opts Options, lg Logger, rec metrics.Recorder) (*Result, error) {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	start := time.Now()
	defer func() { rec.RunFinished(time.Since(start)) }()

	result := &Result{}

	// Step 1: load lock journal.
	j, err := journal.Load(source.SnapshotDir())
	if err != nil {
		return nil, &Error{Kind: KindCorruptJournal, Err: err}
	}

	// Step 2: expand destinations.
	destByKey := make(map[string]endpoint.Receiver, len(destinations))
	for _, d := range destinations {
		destByKey[d.Key()] = d
	}
	if opts.LockedDestsOnly {
		for _, key := range j.DestKeys() {
			if _, ok := destByKey[key]; ok {
				continue
			}
			if resolver == nil {
				lg.LogVerbose(0, "Warning: locked destination %q has no resolver configured, skipping\n", key)
				continue
			}
			resolved, err := resolver(ctx, key)
			if err != nil {
				lg.LogVerbose(0, "Warning: could not resolve locked destination %q, skipping: %v\n", key, err)
				continue
			}
			destByKey[key] = resolved
		}
	}
	effectiveDests := make([]endpoint.Receiver, 0, len(destByKey))
	for _, d := range destByKey {
		effectiveDests = append(effectiveDests, d)
	}

	// Step 3: clean corrupt snapshots.
	for _, entry := range j.Entries() {
		dest, ok := destByKey[entry.DestKey]
		if !ok {
			continue
		}
		if !opts.RemoveLocks {
			present, err := endpointHas(ctx, dest, entry.Basename, opts.Prefix)
			if err != nil {
				lg.LogVerbose(0, "Warning: could not check %q at %q for cleanup: %v\n", entry.Basename, entry.DestKey, err)
			} else if present {
				lg.LogVerbose(0, "Deleting corrupt snapshot %q at %q\n", entry.Basename, entry.DestKey)
				if err := dest.Delete(ctx, entry.Basename); err != nil {
					lg.LogVerbose(0, "Warning: failed to delete corrupt snapshot %q at %q: %v\n", entry.Basename, entry.DestKey, err)
				} else {
					rec.SnapshotDeleted(entry.DestKey)
				}
			}
		}
		if err := j.Unlock(entry.Basename, entry.DestKey); err != nil {
			return nil, &Error{Kind: KindCorruptJournal, Err: fmt.Errorf("persisting journal after cleanup: %w", err)}
		}
	}
	if opts.RemoveLocks {
		result.EarlyExit = true
		return result, nil
	}

	// Step 4: create snapshot.
	if opts.CreateSnapshot {
		ts := time.Now().UTC().Format("20060102-150405")
		newBasename := opts.Prefix + ts
		lg.LogVerbose(0, "Creating snapshot %q\n", newBasename)
		if err := source.Snapshot(ctx, newBasename); err != nil {
			return nil, &Error{Kind: KindSnapshotExists, Basename: newBasename, Err: err}
		}
		result.CreatedSnapshot = newBasename
		rec.SnapshotCreated()
	}

	// Step 5 & 6: plan and execute transfers.
	if opts.DoTransfer {
		sourceSet, err := source.List(ctx, opts.Prefix)
		if err != nil {
			return nil, &Error{Kind: KindEndpointUnavailable, Err: fmt.Errorf("listing source: %w", err)}
		}

		for _, dest := range effectiveDests {
			destSet, err := dest.List(ctx, opts.Prefix)
			if err != nil {
				lg.LogVerbose(0, "Destination %q unavailable, skipping: %v\n", dest.Key(), err)
				result.UnavailableDests = append(result.UnavailableDests, dest.Key())
				continue
			}
			common := sourceSet.Intersect(destSet)
			toSend := sourceSet.Difference(destSet).Sorted()

			for _, basename := range toSend {
				parent, _ := catalog.CommonAncestor(common, basename)

				if err := j.Lock(basename, dest.Key()); err != nil {
					return nil, &Error{Kind: KindCorruptJournal, Err: fmt.Errorf("writing lock: %w", err)}
				}

				lg.LogVerbose(0, "Sending %q (parent %q) to %q\n", basename, parent, dest.Key())
				if err := sendOne(ctx, source, dest, basename, parent, opts.Progress); err != nil {
					lg.LogVerbose(0, "Transfer of %q to %q failed: %v\n", basename, dest.Key(), err)
					result.TransferFailures = append(result.TransferFailures, TransferFailure{
						Basename: basename, Destination: dest.Key(), Err: err,
					})
					rec.TransferCompleted(dest.Key(), false)
					continue
				}

				if err := j.Unlock(basename, dest.Key()); err != nil {
					return nil, &Error{Kind: KindCorruptJournal, Err: fmt.Errorf("clearing lock: %w", err)}
				}
				common.Add(basename)
				rec.TransferCompleted(dest.Key(), true)
			}
		}
	}

	// Step 7: retention.
	if err := applyRetention(ctx, source, effectiveDests, j, opts, lg, rec); err != nil {
		return nil, err
	}

	return result, nil
}

func sendOne(ctx context.Context, source endpoint.Source, dest endpoint.Receiver, basename, parent string, progress bool) error {
	stream, err := source.Send(ctx, basename, parent)
	if err != nil {
		return fmt.Errorf("opening send stream: %w", err)
	}
	recvErr := dest.Receive(ctx, stream.Reader, basename, parent, progress)
	waitErr := stream.Wait()
	if recvErr != nil {
		return recvErr
	}
	return waitErr
}

func endpointHas(ctx context.Context, dest endpoint.Receiver, basename, prefix string) (bool, error) {
	set, err := dest.List(ctx, prefix)
	if err != nil {
		return false, err
	}
	return set.Contains(basename), nil
}

func applyRetention(ctx context.Context, source endpoint.Source, destinations []endpoint.Receiver, j *journal.Journal, opts Options, lg Logger, rec metrics.Recorder) error {
	sourceSet, err := source.List(ctx, opts.Prefix)
	if err != nil {
		return &Error{Kind: KindEndpointUnavailable, Err: fmt.Errorf("listing source for retention: %w", err)}
	}

	var liveParents []string
	destSets := make(map[string]catalog.Set, len(destinations))
	for _, dest := range destinations {
		destSet, err := dest.List(ctx, opts.Prefix)
		if err != nil {
			lg.LogVerbose(0, "Destination %q unavailable for retention, skipping: %v\n", dest.Key(), err)
			continue
		}
		destSets[dest.Key()] = destSet
		if parent, ok := catalog.MostRecent(sourceSet.Intersect(destSet)); ok {
			liveParents = append(liveParents, parent)
		}
	}

	sourcePlan := retention.PlanSource(sourceSet, opts.RetainSourceCount, retention.SourcePins{
		Locked:      j.LockedBasenames(),
		LiveParents: liveParents,
	})
	for _, basename := range sourcePlan.Delete {
		lg.LogVerbose(0, "Retiring source snapshot %q\n", basename)
		if err := source.Delete(ctx, basename); err != nil {
			lg.LogVerbose(0, "Warning: failed to delete source snapshot %q: %v\n", basename, err)
			continue
		}
		rec.SnapshotDeleted(source.Key())
	}

	for _, dest := range destinations {
		destSet, ok := destSets[dest.Key()]
		if !ok {
			continue
		}
		destPlan := retention.PlanDestination(destSet, opts.RetainDestinationCount)
		for _, basename := range destPlan.Delete {
			lg.LogVerbose(0, "Retiring destination snapshot %q at %q\n", basename, dest.Key())
			if err := dest.Delete(ctx, basename); err != nil {
				lg.LogVerbose(0, "Warning: failed to delete %q at %q: %v\n", basename, dest.Key(), err)
				continue
			}
			rec.SnapshotDeleted(dest.Key())
		}
	}
	return nil
}
