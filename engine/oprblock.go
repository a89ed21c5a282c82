package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/gomlx/devexec/streams"
)

// RunContext carries the execution context an operation block runs against.
// It is handed to the block's payload by the worker (or by Dispatch itself on
// the inline fast path).
type RunContext struct {
	// Stream is the worker's bound stream. It is nil for CPU workers and for
	// inline execution -- CPU payloads must not issue device-side work.
	Stream streams.Stream
}

// OprBlock is one ready-to-run unit of work: the dependency tracker hands it
// to Engine.Dispatch once all of its dependencies have completed.
//
// A block is dispatched exactly once and executed exactly once; the engine
// does not retain it after Fn returns.
type OprBlock struct {
	// ID identifies the block in logs and traces.
	ID uuid.UUID

	// Device is the execution target.
	Device Device

	// Prop is the scheduling category; it selects the worker group (and the
	// inline fast path, for Async CPU blocks).
	Prop FnProperty

	// Fn is the payload. Device-side work must be issued against
	// runCtx.Stream, which is owned by the executing worker.
	Fn func(runCtx RunContext)
}

// NewOprBlock creates an OprBlock with a fresh ID.
func NewOprBlock(device Device, prop FnProperty, fn func(RunContext)) *OprBlock {
	return &OprBlock{
		ID:     uuid.New(),
		Device: device,
		Prop:   prop,
		Fn:     fn,
	}
}

// String implements fmt.Stringer.
func (b *OprBlock) String() string {
	return fmt.Sprintf("OprBlock(%s, %s on %s)", b.ID, b.Prop, b.Device)
}
