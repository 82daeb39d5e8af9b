package bridge

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("imagebridge")

// ---------------------------------------------------------------------------
// Emission channel
//
// emit hands a value to the UI/output layer independently of the returned
// result. Calls are one-way and ordered; a failed emission never rolls back
// earlier ones in the same run.
// ---------------------------------------------------------------------------

// Emission is one value handed to the output sink.
type Emission struct {
	// Seq is the 1-based call order within one script run.
	Seq         int
	Value       Value
	DisplayName string
	// ID is the caller-supplied stable identifier, or a generated UUID when
	// the caller left it empty.
	ID string
}

// Emitter receives emissions in call order.
type Emitter interface {
	Emit(e Emission)
}

// CollectingEmitter records emissions in order. Useful for tests and as the
// backing of the server's emission store.
type CollectingEmitter struct {
	Emissions []Emission
}

// Emit appends e to the collected list.
func (c *CollectingEmitter) Emit(e Emission) {
	c.Emissions = append(c.Emissions, e)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Emission)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Emission) { f(e) }

// newEmissionID generates an identifier for emissions without one.
func newEmissionID() string {
	return uuid.NewString()
}
