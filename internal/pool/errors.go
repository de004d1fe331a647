package pool

import "errors"

var (
	ErrNilUnit          = errors.New("nil unit")
	ErrAlreadySubmitted = errors.New("unit already submitted")
	ErrRunActive        = errors.New("run in progress")
)
