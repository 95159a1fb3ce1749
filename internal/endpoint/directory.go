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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/btrbak/btrbak/internal/catalog"
	"github.com/btrbak/btrbak/internal/compressstream"
)

// DirectoryBackup implements Receiver against a plain directory on any
// filesystem, not just btrfs: the teacher's "directory"/"compressed" mirror
// formats generalized into one endpoint. Each snapshot is stored as a flat
// send-stream file (optionally zstd-compressed) rather than a reflinked
// subvolume, so it works over any POSIX filesystem at the cost of losing
// reflink-shared storage between snapshots.
type DirectoryBackup struct {
	Path  string
	Codec string
	// RequireDir resolves Open Question 1: when set, List reports a
	// missing Path as KindUnavailable instead of an empty mirror, and the
	// directory is never created implicitly.
	RequireDir bool
	Logger     Logger
}

// NewDirectoryBackup returns a ready DirectoryBackup storing send streams
// under path using the given compression codec. It never creates path
// itself (see the RequireDir field doc and LocalBackup's matching
// constructor); the directory is created lazily on first Receive.
func NewDirectoryBackup(path, codec string, requireDir bool, lg Logger) (*DirectoryBackup, error) {
	return &DirectoryBackup{Path: path, Codec: codec, RequireDir: requireDir, Logger: lg}, nil
}

func (d *DirectoryBackup) Key() string    { return d.Path }
func (d *DirectoryBackup) Writable() bool { return true }
func (d *DirectoryBackup) Close() error   { return nil }

func (d *DirectoryBackup) filename(basename string) string {
	return basename + ".snap" + compressstream.Suffix(d.Codec)
}

func (d *DirectoryBackup) List(ctx context.Context, prefix string) (catalog.Set, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		if os.IsNotExist(err) && !d.RequireDir {
			return catalog.NewSet(nil), nil
		}
		return nil, &Error{Kind: KindUnavailable, Endpoint: d.Key(), Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		name = strings.TrimSuffix(name, compressstream.Suffix(d.Codec))
		name = strings.TrimSuffix(name, ".snap")
		names = append(names, name)
	}
	return catalog.NewSet(catalog.FilterPrefix(names, prefix)), nil
}

func (d *DirectoryBackup) Receive(ctx context.Context, stream io.Reader, basename, parent string, progress bool) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: d.Key(), Basename: basename, Err: err}
	}
	dest := filepath.Join(d.Path, d.filename(basename))
	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: d.Key(), Basename: basename, Err: err}
	}

	enc, err := compressstream.NewWriter(f, d.Codec)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return &Error{Kind: KindTransferFailed, Endpoint: d.Key(), Basename: basename, Err: err}
	}

	_, copyErr := io.Copy(enc, stream)
	closeErr := enc.Close()
	syncErr := f.Sync()
	f.Close()

	if copyErr != nil || closeErr != nil || syncErr != nil {
		os.Remove(tmp)
		err := copyErr
		if err == nil {
			err = closeErr
		}
		if err == nil {
			err = syncErr
		}
		return &Error{Kind: KindTransferFailed, Endpoint: d.Key(), Basename: basename, Err: err}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &Error{Kind: KindTransferFailed, Endpoint: d.Key(), Basename: basename, Err: err}
	}
	return nil
}

func (d *DirectoryBackup) Delete(ctx context.Context, basename string) error {
	path := filepath.Join(d.Path, d.filename(basename))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path)
}
