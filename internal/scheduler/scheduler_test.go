package scheduler

import (
	"context"
	"testing"
	"time"
)

type noopLogger struct{}

func (noopLogger) LogVerbose(level int, format string, args ...interface{}) {}

func TestRunInvokesImmediatelyAndOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var calls int
	err := Run(ctx, "@every 1h", func(context.Context) error {
		calls++
		return nil
	}, noopLogger{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one immediate invocation within the short-lived context, got %d", calls)
	}
}

func TestRunRejectsInvalidExpression(t *testing.T) {
	if err := Run(context.Background(), "not a cron expression", func(context.Context) error { return nil }, noopLogger{}); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
