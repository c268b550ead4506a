package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/scenebridge/internal/sink"
)

// FrameErrorCode categorizes frame-fatal errors.
type FrameErrorCode string

const (
	// ErrCodeInit indicates the render-scene sink could not be constructed.
	ErrCodeInit FrameErrorCode = "INIT_FAILED"

	// ErrCodeNoSteps indicates the motion sampler produced no steps.
	ErrCodeNoSteps FrameErrorCode = "NO_MOTION_STEPS"

	// ErrCodeTranslate indicates the walk, expansion or binding failed.
	ErrCodeTranslate FrameErrorCode = "TRANSLATE_FAILED"

	// ErrCodeRender indicates the sink render call failed.
	ErrCodeRender FrameErrorCode = "RENDER_FAILED"

	// ErrCodeHook indicates a pre- or post-frame hook failed.
	ErrCodeHook FrameErrorCode = "HOOK_FAILED"
)

// FrameError aborts a single frame. In batch mode the session proceeds
// with the next frame.
type FrameError struct {
	Code  FrameErrorCode
	Frame float64
	Err   error
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: frame %g: %v", e.Code, e.Frame, e.Err)
}

// Unwrap returns the underlying error.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsSessionFatal reports whether err ends the whole session.
func IsSessionFatal(err error) bool {
	return errors.Is(err, sink.ErrSessionFatal)
}

// IsFrameFatal reports whether err aborts only the current frame.
// Uses errors.As to handle wrapped errors.
func IsFrameFatal(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && !IsSessionFatal(err)
}

func frameError(code FrameErrorCode, frame float64, err error) *FrameError {
	return &FrameError{Code: code, Frame: frame, Err: err}
}
