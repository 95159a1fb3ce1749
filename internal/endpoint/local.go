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

package endpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btrbak/btrbak/internal/btrfsutil"
	"github.com/btrbak/btrbak/internal/catalog"
	"github.com/btrbak/btrbak/internal/pipeline"
)

// Logger receives command tracing, satisfied by the run context's
// LogVerbose method.
type Logger interface {
	LogVerbose(level int, format string, args ...interface{})
}

// ErrSnapshotExists is returned by LocalSource.Snapshot when basename
// already exists in the snapshot directory.
var ErrSnapshotExists = fmt.Errorf("snapshot already exists")

// LocalSource implements Source against a mounted btrfs subvolume: the
// "source" in spec §4.2.
type LocalSource struct {
	SubvolumePath string
	SnapDir       string
	Prefix        string
	Logger        Logger
}

// NewLocalSource resolves a relative snapDir under subvolPath, creates it if
// needed, validates that it resides on a btrfs filesystem and returns a
// ready LocalSource. It does not check that SnapDir is on the same btrfs
// filesystem as SubvolumePath.
func NewLocalSource(subvolPath, snapDir, prefix string, lg Logger) (*LocalSource, error) {
	if !filepath.IsAbs(snapDir) {
		snapDir = filepath.Join(subvolPath, snapDir)
	}
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, fmt.Errorf("endpoint: creating snapshot directory %q: %w", snapDir, err)
	}
	ok, err := btrfsutil.IsBtrfs(snapDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("endpoint: snapshot directory %q is not on a btrfs filesystem", snapDir)
	}
	return &LocalSource{SubvolumePath: subvolPath, SnapDir: snapDir, Prefix: prefix, Logger: lg}, nil
}

func (s *LocalSource) Key() string           { return s.SnapDir }
func (s *LocalSource) Writable() bool        { return true }
func (s *LocalSource) SnapshotDir() string   { return s.SnapDir }
func (s *LocalSource) Close() error          { return nil }

func (s *LocalSource) List(ctx context.Context, prefix string) (catalog.Set, error) {
	entries, err := os.ReadDir(s.SnapDir)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Endpoint: s.Key(), Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return catalog.NewSet(catalog.FilterPrefix(names, prefix)), nil
}

func (s *LocalSource) Snapshot(ctx context.Context, basename string) error {
	dest := filepath.Join(s.SnapDir, basename)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrSnapshotExists, basename)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("endpoint: checking for existing snapshot %q: %w", dest, err)
	}
	return btrfsutil.Snapshot(ctx, s.SubvolumePath, dest, s.Logger)
}

func (s *LocalSource) Send(ctx context.Context, basename, parent string) (*SendStream, error) {
	path := filepath.Join(s.SnapDir, basename)
	var parentPath string
	if parent != "" {
		parentPath = filepath.Join(s.SnapDir, parent)
	}
	proc, err := btrfsutil.Send(ctx, path, parentPath, s.Logger)
	if err != nil {
		return nil, err
	}
	return &SendStream{Reader: proc.Stdout, Wait: proc.Wait}, nil
}

func (s *LocalSource) Delete(ctx context.Context, basename string) error {
	path := filepath.Join(s.SnapDir, basename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return btrfsutil.Delete(ctx, path, s.Logger)
}

// LocalBackup implements Receiver against a directory on another btrfs
// filesystem: the local-destination variant of spec §4.1.
type LocalBackup struct {
	MirrorPath string
	// RequireDir resolves Open Question 1: when set, List reports a
	// missing MirrorPath as KindUnavailable instead of an empty mirror,
	// and the directory is never created implicitly.
	RequireDir bool
	Logger     Logger
}

// NewLocalBackup returns a ready LocalBackup for mirrorPath. It validates
// the path as btrfs-backed if it already exists, but never creates it here
// (mirroring the teacher's ensureLocalMirrorPath would mask a genuinely
// missing destination from List, which is the one thing --require-dest-dir
// needs to observe); the directory is created lazily on first Receive.
func NewLocalBackup(mirrorPath string, requireDir bool, lg Logger) (*LocalBackup, error) {
	if _, err := os.Stat(mirrorPath); err == nil {
		ok, err := btrfsutil.IsBtrfs(mirrorPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("endpoint: local destination %q is not a btrfs filesystem", mirrorPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("endpoint: accessing mirror path %q: %w", mirrorPath, err)
	}
	return &LocalBackup{MirrorPath: mirrorPath, RequireDir: requireDir, Logger: lg}, nil
}

func (b *LocalBackup) Key() string    { return b.MirrorPath }
func (b *LocalBackup) Writable() bool { return true }
func (b *LocalBackup) Close() error   { return nil }

func (b *LocalBackup) List(ctx context.Context, prefix string) (catalog.Set, error) {
	entries, err := os.ReadDir(b.MirrorPath)
	if err != nil {
		if os.IsNotExist(err) && !b.RequireDir {
			return catalog.NewSet(nil), nil
		}
		return nil, &Error{Kind: KindUnavailable, Endpoint: b.Key(), Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return catalog.NewSet(catalog.FilterPrefix(names, prefix)), nil
}

func (b *LocalBackup) Receive(ctx context.Context, stream io.Reader, basename, parent string, progress bool) error {
	if _, err := os.Stat(b.MirrorPath); os.IsNotExist(err) {
		b.Logger.LogVerbose(1, "Mirror path %q does not exist, creating\n", b.MirrorPath)
		if err := os.MkdirAll(b.MirrorPath, 0o755); err != nil {
			return &Error{Kind: KindTransferFailed, Endpoint: b.Key(), Basename: basename, Err: err}
		}
	}
	proc, err := btrfsutil.Receive(ctx, b.MirrorPath, false, b.Logger)
	if err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: b.Key(), Basename: basename, Err: err}
	}
	err = pipeline.Copy(ctx, proc.Stdin, stream, progress, b.Logger, nil, func() error {
		proc.Stdin.Close()
		return proc.Wait()
	})
	if err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: b.Key(), Basename: basename, Err: err}
	}
	return nil
}

func (b *LocalBackup) Delete(ctx context.Context, basename string) error {
	path := filepath.Join(b.MirrorPath, basename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return btrfsutil.Delete(ctx, path, b.Logger)
}
