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
	"os/exec"
	"strings"

	"github.com/btrbak/btrbak/internal/catalog"
	"github.com/btrbak/btrbak/internal/compressstream"
	"github.com/btrbak/btrbak/internal/pipeline"
)

// ShellBackup implements the write-only destination variant of spec §4.1:
// it pipes the send stream to the standard input of an arbitrary user
// command, with %DEST% expanded to the snapshot basename. list() always
// returns empty and delete() is a no-op, forcing a full send every run --
// this is intentional, the user opted out of state tracking.
type ShellBackup struct {
	CommandTemplate string
	Raw             string
	Codec           string
	Logger          Logger
}

// NewShellBackup returns a ready ShellBackup for the given shell://
// destination spec, wrapping the stream it writes to the command's stdin
// with codec (see internal/compressstream) when set to anything but none.
func NewShellBackup(spec *Spec, codec string, lg Logger) *ShellBackup {
	return &ShellBackup{CommandTemplate: spec.Command, Raw: spec.Raw, Codec: codec, Logger: lg}
}

func (s *ShellBackup) Key() string    { return s.Raw }
func (s *ShellBackup) Writable() bool { return false }
func (s *ShellBackup) Close() error   { return nil }

func (s *ShellBackup) List(ctx context.Context, prefix string) (catalog.Set, error) {
	return catalog.NewSet(nil), nil
}

func (s *ShellBackup) Delete(ctx context.Context, basename string) error {
	return nil
}

func (s *ShellBackup) Receive(ctx context.Context, stream io.Reader, basename, parent string, progress bool) error {
	command := strings.ReplaceAll(s.CommandTemplate, "%DEST%", basename)
	s.Logger.LogVerbose(1, "Running shell destination command: %s\n", command)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"BTRBAK_SNAPSHOT="+basename,
		"BTRBAK_PARENT="+parent,
		"BTRBAK_DESTINATION="+s.Raw,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: s.Key(), Basename: basename, Err: err}
	}
	enc, err := compressstream.NewWriter(stdin, s.Codec)
	if err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: s.Key(), Basename: basename, Err: err}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return &Error{Kind: KindTransferFailed, Endpoint: s.Key(), Basename: basename, Err: err}
	}

	copyErr := pipeline.Copy(ctx, enc, stream, progress, s.Logger, nil, func() error {
		enc.Close()
		stdin.Close()
		return cmd.Wait()
	})
	if copyErr != nil {
		if stderr.Len() > 0 {
			return &Error{Kind: KindTransferFailed, Endpoint: s.Key(), Basename: basename,
				Err: fmt.Errorf("%w: %s", copyErr, stderr.String())}
		}
		return &Error{Kind: KindTransferFailed, Endpoint: s.Key(), Basename: basename, Err: copyErr}
	}
	return nil
}
