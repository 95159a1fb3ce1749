package coordinator

import (
	"context"
	"testing"

	"github.com/btrbak/btrbak/internal/endpoint"
	"github.com/btrbak/btrbak/internal/journal"
)

func TestFirstRunSingleLocalDestination(t *testing.T) {
	src := newFakeSource(t.TempDir())
	dst := newFakeDest("/backup")

	opts := Options{CreateSnapshot: true, DoTransfer: true}
	res, err := Run(context.Background(), src, []endpoint.Receiver{dst}, nil, opts, silentLogger{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CreatedSnapshot == "" {
		t.Fatal("expected a snapshot to be created")
	}
	if !dst.snapshots[res.CreatedSnapshot] {
		t.Fatalf("expected %q replicated to destination", res.CreatedSnapshot)
	}
	if len(res.TransferFailures) != 0 {
		t.Fatalf("expected no failures, got %v", res.TransferFailures)
	}

	j, err := journal.Load(src.SnapshotDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(j.Entries()) != 0 {
		t.Fatalf("expected empty journal after clean run, got %v", j.Entries())
	}
}

func TestIncrementalRunSendsOnlyNewSnapshot(t *testing.T) {
	src := newFakeSource(t.TempDir())
	dst := newFakeDest("/backup")

	src.snapshots["20240115-120000"] = true
	dst.snapshots["20240115-120000"] = true
	src.snapshots["20240115-120100"] = true // the snapshot step already ran this second

	opts := Options{DoTransfer: true}
	res, err := Run(context.Background(), src, []endpoint.Receiver{dst}, nil, opts, silentLogger{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !dst.snapshots["20240115-120100"] {
		t.Fatal("expected the new snapshot to be replicated")
	}
	if len(res.TransferFailures) != 0 {
		t.Fatalf("expected no failures, got %v", res.TransferFailures)
	}
}

func TestOutageLeavesLockAndOtherDestinationsStillSucceed(t *testing.T) {
	src := newFakeSource(t.TempDir())
	local := newFakeDest("/backup")
	remote := newFakeDest("ssh://nas/b")
	remote.failOnce["20240115-120100"] = true

	src.snapshots["20240115-120000"] = true
	local.snapshots["20240115-120000"] = true
	remote.snapshots["20240115-120000"] = true
	src.snapshots["20240115-120100"] = true

	opts := Options{DoTransfer: true}
	res, err := Run(context.Background(), src, []endpoint.Receiver{local, remote}, nil, opts, silentLogger{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.TransferFailures) != 1 || res.TransferFailures[0].Destination != "ssh://nas/b" {
		t.Fatalf("expected exactly one failure for the remote destination, got %v", res.TransferFailures)
	}
	if !local.snapshots["20240115-120100"] {
		t.Fatal("expected the local destination to still succeed despite the remote outage")
	}

	j, err := journal.Load(src.SnapshotDir())
	if err != nil {
		t.Fatal(err)
	}
	if !j.Locked("20240115-120100", "ssh://nas/b") {
		t.Fatal("expected a lock entry for the failed remote transfer")
	}
	if j.Locked("20240115-120100", "/backup") {
		t.Fatal("expected no lock entry for the destination that succeeded")
	}
}

func TestRequireDestDirMissingDestinationIsUnavailable(t *testing.T) {
	src := newFakeSource(t.TempDir())
	src.snapshots["20240115-120000"] = true

	local := newFakeDest("/backup")
	local.unavailable = true

	opts := Options{DoTransfer: true, RequireDestDir: true}
	res, err := Run(context.Background(), src, []endpoint.Receiver{local}, nil, opts, silentLogger{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.UnavailableDests) != 1 || res.UnavailableDests[0] != "/backup" {
		t.Fatalf("expected /backup to be recorded unavailable, got %v", res.UnavailableDests)
	}
	if len(res.TransferFailures) != 0 {
		t.Fatalf("expected no transfer failures for an unavailable destination, got %v", res.TransferFailures)
	}
}

func TestRetryAfterOutageCleansAndRetransmits(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(dir)
	remote := newFakeDest("ssh://nas/b")

	src.snapshots["20240115-120000"] = true
	remote.snapshots["20240115-120000"] = true
	src.snapshots["20240115-120100"] = true
	// Simulate the prior failed run: a torn snapshot left on the
	// destination, with an open lock still in the journal.
	remote.snapshots["20240115-120100"] = true
	seed, err := journal.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.Lock("20240115-120100", "ssh://nas/b"); err != nil {
		t.Fatal(err)
	}

	resolver := func(ctx context.Context, key string) (endpoint.Receiver, error) {
		if key == remote.Key() {
			return remote, nil
		}
		return nil, nil
	}

	// --no-snapshot --locked-dests
	opts := Options{DoTransfer: true, LockedDestsOnly: true}
	res, err := Run(context.Background(), src, nil, resolver, opts, silentLogger{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.TransferFailures) != 0 {
		t.Fatalf("expected the retry to succeed, got failures %v", res.TransferFailures)
	}
	if !remote.snapshots["20240115-120100"] {
		t.Fatal("expected the snapshot to be present at the destination after retransmit")
	}

	j, err := journal.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(j.Entries()) != 0 {
		t.Fatalf("expected the journal to be empty after a clean retry, got %v", j.Entries())
	}
}

func TestRemoveLocksScrubsOnlyNamedDestination(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(dir)
	seed, err := journal.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	seed.Lock("X", "/b1")
	seed.Lock("X", "/b2")

	b1 := newFakeDest("/b1")
	opts := Options{RemoveLocks: true}
	res, err := Run(context.Background(), src, []endpoint.Receiver{b1}, nil, opts, silentLogger{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.EarlyExit {
		t.Fatal("expected RemoveLocks to terminate the run early")
	}

	j, err := journal.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	entries := j.Entries()
	if len(entries) != 1 || entries[0].Basename != "X" || entries[0].DestKey != "/b2" {
		t.Fatalf("expected only X/b2 remaining in the journal, got %v", entries)
	}
}

func TestFakeSourceRejectsDuplicateBasename(t *testing.T) {
	src := newFakeSource(t.TempDir())
	src.snapshots["20240115-120000"] = true

	// The coordinator surfaces this as KindSnapshotExists when the clock
	// produces a basename that already exists in the snapshot directory
	// (two runs within the same second); the source endpoint itself is
	// what detects the collision.
	if err := src.Snapshot(context.Background(), "20240115-120000"); err == nil {
		t.Fatal("expected fakeSource to refuse a duplicate basename")
	}
}
