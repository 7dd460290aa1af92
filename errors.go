package pix2pix

import (
	"fmt"

	"gorgonia.org/tensor"
)

// BatchShapeError Batch can't be fed to compiled graphs
type BatchShapeError struct {
	Reason   string
	Expected tensor.Shape
	Got      tensor.Shape
}

func (e *BatchShapeError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("malformed batch: %s (expected %v)", e.Reason, e.Expected)
	}
	return fmt.Sprintf("malformed batch: %s (expected %v, got %v)", e.Reason, e.Expected, e.Got)
}

// CheckpointIOError Checkpoint or sample can't be written or read
type CheckpointIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s '%s': %v", e.Op, e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error {
	return e.Err
}

// Cause Supports github.com/pkg/errors.Cause
func (e *CheckpointIOError) Cause() error {
	return e.Err
}
