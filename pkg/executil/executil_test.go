package executil

import (
	"context"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRunFailureIncludesStderr(t *testing.T) {
	_, err := Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	if got := err.Error(); !containsAll(got, "boom", "3") {
		t.Errorf("error %q does not mention stderr/exit status", got)
	}
}

func TestRunTimeoutExceeded(t *testing.T) {
	_, err := RunTimeout(10*time.Millisecond, "sleep", "1")
	if err == nil {
		t.Fatal("expected error from timed-out command")
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		found := false
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
