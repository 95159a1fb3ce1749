package coordinator

import (
	"context"
	"fmt"
	"io"

	"github.com/btrbak/btrbak/internal/catalog"
	"github.com/btrbak/btrbak/internal/endpoint"
)

type silentLogger struct{}

func (silentLogger) LogVerbose(level int, format string, args ...interface{}) {}

// fakeSource is an in-memory endpoint.Source for coordinator tests. It never
// touches a real btrfs filesystem; the journal still persists to snapDir
// since that part of the contract (crash-atomic JSON on disk) is exactly
// what's under test in a couple of scenarios.
type fakeSource struct {
	snapDir   string
	snapshots map[string]bool
}

func newFakeSource(dir string) *fakeSource {
	return &fakeSource{snapDir: dir, snapshots: make(map[string]bool)}
}

func (s *fakeSource) Key() string         { return s.snapDir }
func (s *fakeSource) Writable() bool      { return true }
func (s *fakeSource) Close() error        { return nil }
func (s *fakeSource) SnapshotDir() string { return s.snapDir }

func (s *fakeSource) List(ctx context.Context, prefix string) (catalog.Set, error) {
	names := make([]string, 0, len(s.snapshots))
	for n := range s.snapshots {
		names = append(names, n)
	}
	return catalog.NewSet(catalog.FilterPrefix(names, prefix)), nil
}

func (s *fakeSource) Snapshot(ctx context.Context, basename string) error {
	if s.snapshots[basename] {
		return fmt.Errorf("%w: %s", endpoint.ErrSnapshotExists, basename)
	}
	s.snapshots[basename] = true
	return nil
}

func (s *fakeSource) Send(ctx context.Context, basename, parent string) (*endpoint.SendStream, error) {
	if !s.snapshots[basename] {
		return nil, fmt.Errorf("fakeSource: no such snapshot %q", basename)
	}
	content := basename + "|" + parent
	return &endpoint.SendStream{
		Reader: io.NopCloser(newStringReader(content)),
		Wait:   func() error { return nil },
	}, nil
}

func (s *fakeSource) Delete(ctx context.Context, basename string) error {
	delete(s.snapshots, basename)
	return nil
}

// fakeDest is an in-memory endpoint.Receiver for coordinator tests, with the
// ability to fail a specific basename's transfer once to simulate a network
// outage mid-stream.
type fakeDest struct {
	key       string
	snapshots map[string]bool
	failOnce  map[string]bool
	writable  bool
	// unavailable simulates a destination whose directory is missing with
	// --require-dest-dir set: List returns a KindUnavailable error instead
	// of an empty set, the same shape endpoint.LocalBackup/DirectoryBackup/
	// SshBackup produce in that case.
	unavailable bool
}

func newFakeDest(key string) *fakeDest {
	return &fakeDest{key: key, snapshots: make(map[string]bool), failOnce: make(map[string]bool), writable: true}
}

func (d *fakeDest) Key() string    { return d.key }
func (d *fakeDest) Writable() bool { return d.writable }
func (d *fakeDest) Close() error   { return nil }

func (d *fakeDest) List(ctx context.Context, prefix string) (catalog.Set, error) {
	if d.unavailable {
		return nil, &endpoint.Error{Kind: endpoint.KindUnavailable, Endpoint: d.key, Err: fmt.Errorf("simulated missing destination directory")}
	}
	if !d.writable {
		return catalog.NewSet(nil), nil
	}
	names := make([]string, 0, len(d.snapshots))
	for n := range d.snapshots {
		names = append(names, n)
	}
	return catalog.NewSet(catalog.FilterPrefix(names, prefix)), nil
}

func (d *fakeDest) Receive(ctx context.Context, stream io.Reader, basename, parent string, progress bool) error {
	if d.failOnce[basename] {
		delete(d.failOnce, basename)
		io.Copy(io.Discard, stream)
		return &endpoint.Error{Kind: endpoint.KindTransferFailed, Endpoint: d.key, Basename: basename,
			Err: fmt.Errorf("simulated network outage")}
	}
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return err
	}
	if d.writable {
		d.snapshots[basename] = true
	}
	return nil
}

func (d *fakeDest) Delete(ctx context.Context, basename string) error {
	delete(d.snapshots, basename)
	return nil
}

func newStringReader(s string) io.Reader {
	return &stringReaderImpl{s: s}
}

type stringReaderImpl struct {
	s string
	i int
}

func (r *stringReaderImpl) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}
