package ports

import (
	"context"

	"github.com/aretw0/spooler/pkg/domain"
)

// Stage is the next step of the inbound pipeline.
type Stage interface {
	Receive(ctx context.Context, unit domain.Unit) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, unit domain.Unit) error

// Receive calls f(ctx, unit).
func (f StageFunc) Receive(ctx context.Context, unit domain.Unit) error {
	return f(ctx, unit)
}

// Interim writes informational responses on the connection a message arrived on.
type Interim interface {
	// WriteContinue sends "100 Continue" synchronously.
	WriteContinue(ctx context.Context) error
}
