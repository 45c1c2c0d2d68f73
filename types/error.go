package types

import "errors"

var (
	// ErrBackoffLimit maximum backoff attempts reached
	ErrBackoffLimit = errors.New("backoff limit reached")
	// ErrDigestMismatch if the expected digest wasn't received
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrKindMismatch when content is requested under the wrong kind
	ErrKindMismatch = errors.New("kind mismatch")
	// ErrMissingProxy when no proxy reference has been recorded for a hash
	ErrMissingProxy = errors.New("proxy reference missing")
	// ErrNotFound isn't there, search for your value elsewhere
	ErrNotFound = errors.New("not found")
	// ErrParsingFailed when content cannot be parsed
	ErrParsingFailed = errors.New("parsing failed")
	// ErrQueueClosed when the import queue has been shut down
	ErrQueueClosed = errors.New("import queue closed")
	// ErrRetryNeeded indicates a request needs to be retried
	ErrRetryNeeded = errors.New("retry needed")
	// ErrStoreClosed when the object store has been shut down
	ErrStoreClosed = errors.New("object store closed")
	// ErrUnsupported indicates the request was unsupported
	ErrUnsupported = errors.New("unsupported")
	// ErrUnsupportedConfigVersion happens when config file version is greater than this command supports
	ErrUnsupportedConfigVersion = errors.New("unsupported config version")
)
