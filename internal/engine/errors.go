package engine

import "errors"

var (
	// ErrInsufficientSamples indicates a phase collected too few probes or
	// throughput samples to publish a result.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrFatalTransfer marks a transfer error that retrying cannot fix, such
	// as a malformed endpoint URL. It aborts the run.
	ErrFatalTransfer = errors.New("fatal transfer error")
)
