package stitch

import (
	"image"

	apperrors "scrollstitch/internal/errors"
)

// Outcome is the result of one stitch invocation: Success, Warning or Failure. Only
// Success and Warning carry an image.
type Outcome interface {
	outcome()
}

// Success is a composed image with every pair confidently matched.
type Success struct {
	Image *image.RGBA
	Plan  PlanState
}

// Warning is a usable composed image where at least one pair used fallback placement.
type Warning struct {
	Image   *image.RGBA
	Plan    PlanState
	Message string
}

// Failure carries a job-level error and no image.
type Failure struct {
	Err error
}

func (Success) outcome() {}
func (Warning) outcome() {}
func (Failure) outcome() {}

func (f Failure) Error() string {
	if f.Err == nil {
		return "stitch failed"
	}
	return f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }

// Kind returns the error kind, or KindInternal for untyped errors.
func (f Failure) Kind() apperrors.Kind {
	return apperrors.KindOf(f.Err)
}

// Result flattens an outcome into its image, plan and warning message. err is non-nil
// only for Failure.
func Result(o Outcome) (img *image.RGBA, plan PlanState, warning string, err error) {
	switch v := o.(type) {
	case Success:
		return v.Image, v.Plan, "", nil
	case Warning:
		return v.Image, v.Plan, v.Message, nil
	case Failure:
		return nil, PlanState{}, "", v
	default:
		return nil, PlanState{}, "", apperrors.NewInternalError("unknown outcome", nil)
	}
}
