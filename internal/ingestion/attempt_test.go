package ingestion

import (
	"errors"
	"testing"
)

func TestAttempt(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		ceiling   int
		steps     string // f = fail, p = progress, s = succeed
		want      AttemptState
		failures  int
		wantTotal int
	}{
		{"exhausts at ceiling", 3, "fff", Exhausted, 3, 3},
		{"progress resets counter", 3, "ffpff", Attempting, 2, 5},
		{"succeed is terminal", 3, "ffs", Succeeded, 0, 3},
		{"terminal state is sticky", 2, "ffsp", Exhausted, 2, 2},
		{"zero ceiling means one try", 0, "f", Exhausted, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAttempt(tt.ceiling)
			for _, step := range tt.steps {
				switch step {
				case 'f':
					a.Fail(boom)
				case 'p':
					a.Progress()
				case 's':
					a.Succeed()
				}
			}
			if a.State() != tt.want {
				t.Fatalf("state=%s, want %s", a.State(), tt.want)
			}
			if a.Failures() != tt.failures || a.Total() != tt.wantTotal {
				t.Fatalf("failures=%d total=%d, want %d/%d", a.Failures(), a.Total(), tt.failures, tt.wantTotal)
			}
			if a.Done() != (tt.want != Attempting) {
				t.Fatalf("Done()=%v for state %s", a.Done(), a.State())
			}
		})
	}
}

func TestAttempt_LastError(t *testing.T) {
	a := NewAttempt(5)
	if a.Last() != nil {
		t.Fatalf("expected no last error")
	}
	first, second := errors.New("first"), errors.New("second")
	a.Fail(first)
	a.Fail(second)
	if a.Last() != second {
		t.Fatalf("Last()=%v", a.Last())
	}
}
