package domain

import "errors"

var (
	// ErrInputOrder means the historical store returned records out of
	// chronological order. Fatal; the run aborts.
	ErrInputOrder = errors.New("input order violation")
	// ErrStore wraps I/O failures from the historical store. Fatal.
	ErrStore = errors.New("store error")
	// ErrInsufficientData means the calibration window does not yet hold
	// enough events to fit. Recoverable; the engine keeps the last published
	// parameters, so quotes stay provisional until a valid fit exists. It does
	// not re-enter warmup: warmup ends by elapsed time alone.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnfitParams means an estimator could not produce a valid fit.
	// Recoverable; the quote model substitutes defaults.
	ErrUnfitParams = errors.New("unfit parameters")
	// ErrNotFound is returned by stores and caches for missing records.
	ErrNotFound = errors.New("not found")
	// ErrNoData means no snapshot ever passed warmup during a run.
	ErrNoData = errors.New("no snapshot passed warmup")
	// ErrLockHeld is returned when a run lock is already taken.
	ErrLockHeld = errors.New("lock already held")
)
