// Package classify implements the pure, total mapping from a completed
// matrix.TestResult to a matrix.Status, per spec.md 4.5. It holds no state
// and makes no I/O calls: every input it needs arrives as a parameter.
package classify

import "github.com/imazen/cargo-copter/internal/matrix"

// IsSuccess reports whether every step that was not configured to be
// skipped succeeded. A nil Check or Test produced by an early stop (the
// prior step failed) is a failure; a nil Check or Test produced by
// skipCheck/skipTest is a pass. The two are indistinguishable from
// ThreeStepResult's shape alone, which is why both skip flags must be
// passed in explicitly rather than inferred from nil-ness.
func IsSuccess(t matrix.ThreeStepResult, skipCheck, skipTest bool) bool {
	if !t.Fetch.Success {
		return false
	}
	if !skipCheck {
		if t.Check == nil || !t.Check.Success {
			return false
		}
	}
	if !skipTest {
		if t.Test == nil || !t.Test.Success {
			return false
		}
	}
	return true
}

// Classify maps a completed TestResult to its Status, per spec.md 4.5:
//
//	r.Baseline == nil        -> StatusBaseline (the cell IS the baseline row)
//	baseline passed, offered passed -> StatusPassed
//	baseline passed, offered failed -> StatusRegressed
//	baseline failed, offered passed -> StatusFixed
//	baseline failed, offered failed -> StatusStillBroken
func Classify(r matrix.TestResult, skipCheck, skipTest bool) matrix.Status {
	if r.Baseline == nil {
		return matrix.StatusBaseline
	}

	baselinePassed := r.Baseline.BaselinePassed
	offeredPassed := IsSuccess(r.Execution, skipCheck, skipTest)

	switch {
	case baselinePassed && offeredPassed:
		return matrix.StatusPassed
	case baselinePassed && !offeredPassed:
		return matrix.StatusRegressed
	case !baselinePassed && offeredPassed:
		return matrix.StatusFixed
	default:
		return matrix.StatusStillBroken
	}
}
