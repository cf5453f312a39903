package classify

import (
	"testing"

	"github.com/imazen/cargo-copter/internal/matrix"
)

func ok() matrix.StepOutcome   { return matrix.StepOutcome{Success: true} }
func fail() matrix.StepOutcome { return matrix.StepOutcome{Success: false} }

func TestIsSuccessAllStepsRun(t *testing.T) {
	check, test := ok(), ok()
	r := matrix.ThreeStepResult{Fetch: ok(), Check: &check, Test: &test}
	if !IsSuccess(r, false, false) {
		t.Error("expected success when all three steps pass")
	}
}

func TestIsSuccessFetchFails(t *testing.T) {
	r := matrix.ThreeStepResult{Fetch: fail()}
	if IsSuccess(r, true, true) {
		t.Error("fetch failure must fail regardless of skip flags")
	}
}

func TestIsSuccessEarlyStopIsFailure(t *testing.T) {
	// Fetch passed, check never ran (nil) because it was never reached due
	// to an early stop upstream - not because skip_check was set.
	r := matrix.ThreeStepResult{Fetch: ok(), Check: nil, Test: nil}
	if IsSuccess(r, false, false) {
		t.Error("a nil Check produced by early-stop should be a failure")
	}
}

func TestIsSuccessConfigSkipIsPass(t *testing.T) {
	r := matrix.ThreeStepResult{Fetch: ok(), Check: nil, Test: nil}
	if !IsSuccess(r, true, true) {
		t.Error("a nil Check/Test produced by a config skip should be a pass")
	}
}

func TestIsSuccessCheckFails(t *testing.T) {
	check := fail()
	r := matrix.ThreeStepResult{Fetch: ok(), Check: &check}
	if IsSuccess(r, false, true) {
		t.Error("check failure must fail even when test is skipped")
	}
}

func TestClassifyBaseline(t *testing.T) {
	r := matrix.TestResult{Execution: matrix.ThreeStepResult{Fetch: ok()}, Baseline: nil}
	if got := Classify(r, true, true); got != matrix.StatusBaseline {
		t.Errorf("Classify = %v, want StatusBaseline", got)
	}
}

func TestClassifyAllFourQuadrants(t *testing.T) {
	cases := []struct {
		name           string
		baselinePassed bool
		offeredPassed  bool
		want           matrix.Status
	}{
		{"passed", true, true, matrix.StatusPassed},
		{"regressed", true, false, matrix.StatusRegressed},
		{"fixed", false, true, matrix.StatusFixed},
		{"still-broken", false, false, matrix.StatusStillBroken},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			exec := matrix.ThreeStepResult{Fetch: ok()}
			if !c.offeredPassed {
				exec.Fetch = fail()
			}
			r := matrix.TestResult{
				Execution: exec,
				Baseline:  &matrix.BaselineComparison{BaselinePassed: c.baselinePassed},
			}
			if got := Classify(r, true, true); got != c.want {
				t.Errorf("Classify(%s) = %v, want %v", c.name, got, c.want)
			}
		})
	}
}
