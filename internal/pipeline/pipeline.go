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

// Package pipeline wires a send stream through an optional progress filter
// into a receiver, as a DAG of child processes and goroutines linked by
// anonymous pipes, with scoped descriptor cleanup on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Logger receives command tracing.
type Logger interface {
	LogVerbose(level int, format string, args ...interface{})
}

// Copy streams src to dst, optionally through a "pv" progress filter found
// on $PATH, and waits for both the copy and any interposed filter to
// finish. waitSource and waitSink are invoked after the copy completes and
// their errors are folded into the result alongside any copy error, mirroring
// the WaitGroup-plus-buffered-error-channel idiom used for every transfer in
// this codebase.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, progress bool, lg Logger, waitSource, waitSink func() error) error {
	var (
		wg     sync.WaitGroup
		errors = make(chan error, 3)
	)

	reader := src
	var pv *exec.Cmd
	var pvStdin io.WriteCloser
	var pvStdout io.ReadCloser

	if progress {
		if path, err := exec.LookPath("pv"); err == nil {
			lg.LogVerbose(1, "Interposing pv for progress reporting\n")
			pv = exec.CommandContext(ctx, path)
			pvStdin, err = pv.StdinPipe()
			if err != nil {
				return fmt.Errorf("pipeline: creating pv stdin pipe: %w", err)
			}
			pvStdout, err = pv.StdoutPipe()
			if err != nil {
				return fmt.Errorf("pipeline: creating pv stdout pipe: %w", err)
			}
			if err := pv.Start(); err != nil {
				return fmt.Errorf("pipeline: starting pv: %w", err)
			}
			reader = pvStdout
		} else {
			lg.LogVerbose(2, "Progress requested but pv not found on PATH, skipping\n")
		}
	}

	if pv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pvStdin.Close()
			if _, err := io.Copy(pvStdin, src); err != nil {
				errors <- fmt.Errorf("pipeline: copying into pv: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := io.Copy(dst, reader); err != nil {
			errors <- fmt.Errorf("pipeline: copying stream: %w", err)
		}
	}()

	wg.Wait()

	if pv != nil {
		if err := pv.Wait(); err != nil {
			errors <- fmt.Errorf("pipeline: pv: %w", err)
		}
	}
	if waitSource != nil {
		if err := waitSource(); err != nil {
			errors <- err
		}
	}
	if waitSink != nil {
		if err := waitSink(); err != nil {
			errors <- err
		}
	}

	close(errors)
	for err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}
