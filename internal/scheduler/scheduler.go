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

// Package scheduler runs a function immediately and then again on every
// match of a cron expression, generalizing the teacher's run --daemon fixed
// ticker loop (pkg/cmd/run.go's daemon()) to full cron syntax.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Logger receives scheduler tracing via the LogVerbose convention used
// throughout this codebase.
type Logger interface {
	LogVerbose(level int, format string, args ...interface{})
}

// Run parses expr as a standard five-field cron expression (or one of
// cron's descriptor aliases like "@hourly") and invokes fn immediately, then
// again on every subsequent match, until ctx is cancelled. Errors returned
// by fn are logged and do not stop the schedule, mirroring the teacher's
// daemon() which logs and retries on the next interval rather than exiting.
func Run(ctx context.Context, expr string, fn func(context.Context) error, lg Logger) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}

	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		if err := fn(ctx); err != nil {
			lg.LogVerbose(0, "Scheduled run failed: %v\n", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: scheduling %q: %w", expr, err)
	}

	lg.LogVerbose(0, "Running once immediately before entering schedule %q\n", expr)
	if err := fn(ctx); err != nil {
		lg.LogVerbose(0, "Initial run failed: %v\n", err)
	}

	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return nil
}
