package main

import "errors"

var (
	// ErrCanceled is used when context is canceled before the benchmark completes
	ErrCanceled = errors.New("benchmark was canceled")
	// ErrInvalidInput indicates a flag value is invalid
	ErrInvalidInput = errors.New("invalid input")
)
