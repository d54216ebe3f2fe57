package types

import "testing"

func TestProbeRunAppend(t *testing.T) {
	run := &ProbeRun{}
	run.Append(IterationResult{Index: 0, State: StateReceived})
	run.Append(IterationResult{Index: 1, State: StateFailed, ErrorKind: ErrKindTimeout})
	run.Append(IterationResult{Index: 2, State: StateFailed, ErrorKind: ErrKindTimeout})
	run.Append(IterationResult{Index: 3, State: StateFailed, ErrorKind: ErrKindSubmission})

	if run.Succeeded != 1 || run.Failed != 3 {
		t.Errorf("succeeded/failed = %d/%d, want 1/3", run.Succeeded, run.Failed)
	}

	successful := run.Successful()
	if len(successful) != 1 || successful[0].Index != 0 {
		t.Errorf("Successful() = %+v", successful)
	}

	kinds := run.FailureKinds()
	if kinds[ErrKindTimeout] != 2 || kinds[ErrKindSubmission] != 1 {
		t.Errorf("FailureKinds() = %v", kinds)
	}
}

func TestIterationSucceeded(t *testing.T) {
	for _, tt := range []struct {
		state IterationState
		want  bool
	}{
		{StateBuilding, false},
		{StateSubmitted, false},
		{StatePolling, false},
		{StateReceived, true},
		{StateFailed, false},
	} {
		r := IterationResult{State: tt.state}
		if got := r.Succeeded(); got != tt.want {
			t.Errorf("Succeeded() in state %s = %v, want %v", tt.state, got, tt.want)
		}
	}
}
