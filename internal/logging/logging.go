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

// Package logging provides the single LogVerbose convention shared by every
// other package in this codebase: a stdlib *log.Logger writing to stderr,
// gated by an integer verbosity level set by repeated -v flags.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger writes to an underlying *log.Logger only when the message's level
// is at or below the configured verbosity, exactly the teacher's logLevel
// package function turned into a reusable type so it can be threaded through
// the coordinator, endpoint, btrfsutil, and pipeline packages instead of
// living as a free function tied to one command tree.
type Logger struct {
	out       *log.Logger
	verbosity int
}

// New returns a Logger writing to w with the given verbosity threshold.
func New(w io.Writer, verbosity int) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), verbosity: verbosity}
}

// NewStderr returns a Logger writing to os.Stderr, matching the teacher's
// default log.New(os.Stderr, "", log.LstdFlags) construction.
func NewStderr(verbosity int) *Logger {
	return New(os.Stderr, verbosity)
}

// LogVerbose logs format/args if level is at or below the configured
// verbosity. Level 0 always logs unless verbosity itself has been set
// negative by --quiet.
func (l *Logger) LogVerbose(level int, format string, args ...interface{}) {
	if l.verbosity >= level {
		l.out.Printf(format, args...)
	}
}

// Verbosity returns the configured verbosity level.
func (l *Logger) Verbosity() int { return l.verbosity }

// SetVerbosity updates the verbosity threshold, used once -v/-q flags have
// been parsed.
func (l *Logger) SetVerbosity(v int) { l.verbosity = v }
