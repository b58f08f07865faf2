package app

import "errors"

var (
	// ErrInvalidInput covers malformed caller input that is not part of the
	// engine error taxonomy (missing user, empty file, blank query text).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDocumentBusy indicates a re-process request for a document that is
	// still pending or processing.
	ErrDocumentBusy = errors.New("document is still being processed")
)
