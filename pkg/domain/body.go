package domain

import "io"

// Body is a lazily read, repeatable message body.
// Each call to Open returns an independent reader positioned at the start.
type Body interface {
	Open() (io.ReadCloser, error)
	Size() int64

	// Discard releases the storage behind the body. Open fails afterwards.
	Discard() error
}
