package dispatch

import (
	"fmt"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// DispatchError means a point never started computing: the process could not
// be launched or the cluster rejected the submission.
type DispatchError struct {
	Point domain.PointID
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Point, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ConvergenceFailure means the solver ran but produced no converged result.
type ConvergenceFailure struct {
	Point  domain.PointID
	Detail string
}

func (e *ConvergenceFailure) Error() string {
	return fmt.Sprintf("%s did not converge: %s", e.Point, e.Detail)
}

// TimeoutError means the point exceeded its wall-clock limit and was killed.
// Limit is zero when the cluster enforced its own limit.
type TimeoutError struct {
	Point domain.PointID
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s exceeded wall-clock limit of %s", e.Point, e.Limit)
	}
	return fmt.Sprintf("%s exceeded its wall-clock limit", e.Point)
}
