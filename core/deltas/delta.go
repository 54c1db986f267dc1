package deltas

// Delta is the batch of operations applied to a file at one instant, in the
// order they were applied.
type Delta struct {
	Operations  []Operation
	TimestampMs int64
}

// NewDelta builds a Delta from operations observed at timestampMs.
func NewDelta(timestampMs int64, ops ...Operation) Delta {
	return Delta{Operations: ops, TimestampMs: timestampMs}
}

// Equal reports structural equality: same timestamp, same operations in the
// same order.
func (d Delta) Equal(other Delta) bool {
	if d.TimestampMs != other.TimestampMs || len(d.Operations) != len(other.Operations) {
		return false
	}
	for i := range d.Operations {
		if d.Operations[i] != other.Operations[i] {
			return false
		}
	}
	return true
}

// IsEmpty is true when the delta carries no operations.
func (d Delta) IsEmpty() bool {
	return len(d.Operations) == 0
}

// Equal compares two logs delta by delta.
func Equal(a, b []Delta) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
