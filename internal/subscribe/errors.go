package subscribe

// TransientEvaluationError is delivered when evaluating or settling the
// query failed. The subscription stays alive.
type TransientEvaluationError struct {
	Err error
}

func (e *TransientEvaluationError) Error() string {
	return "evaluation failed: " + e.Err.Error()
}

func (e *TransientEvaluationError) Unwrap() error { return e.Err }

// FatalTransformError is delivered when a settled value could not be turned
// into a payload. The subscription terminates after delivering it.
type FatalTransformError struct {
	Err error
}

func (e *FatalTransformError) Error() string {
	return "transform failed: " + e.Err.Error()
}

func (e *FatalTransformError) Unwrap() error { return e.Err }
