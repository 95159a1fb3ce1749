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

// Package compressstream wraps a send-stream destination writer with
// optional zstd compression, generalizing the teacher's
// localCompressedManager (which switched among gzip/lzw/zlib/zstd encoders
// per mirror format) down to this codebase's single supported codec.
package compressstream

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec names accepted by --compress.
const (
	None = "none"
	Zstd = "zstd"
)

// Suffix returns the filename suffix a DirectoryBackup should append for
// the given codec, empty for None.
func Suffix(codec string) string {
	if codec == Zstd {
		return ".zst"
	}
	return ""
}

// NewWriter wraps w so that bytes written to the result are encoded per
// codec before reaching w. The caller must Close the returned writer to
// flush the codec's trailer; closing never closes w.
func NewWriter(w io.Writer, codec string) (io.WriteCloser, error) {
	switch codec {
	case "", None:
		return nopWriteCloser{w}, nil
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("compressstream: creating zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("compressstream: unknown codec %q", codec)
	}
}

// NewReader wraps r so that bytes read from the result are decoded per
// codec. The caller should call Close when done reading to release the
// decoder's internal goroutines; it does not close r.
func NewReader(r io.Reader, codec string) (io.ReadCloser, error) {
	switch codec {
	case "", None:
		return io.NopCloser(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("compressstream: creating zstd reader: %w", err)
		}
		return readerCloser{dec}, nil
	default:
		return nil, fmt.Errorf("compressstream: unknown codec %q", codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type readerCloser struct{ *zstd.Decoder }

func (r readerCloser) Close() error {
	r.Decoder.Close()
	return nil
}
