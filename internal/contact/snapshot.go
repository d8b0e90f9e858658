package contact

import "fmt"

// bitsPerByte is the number of channels carried by one snapshot byte.
const bitsPerByte = 8

// Snapshot is the pin state of all devices captured in one poll cycle.
// A nil Snapshot means no previous reading exists.
type Snapshot []byte

// Transition is a single channel whose state differs between two snapshots.
type Transition struct {
	// Channel is the 1-based channel index (byte*8 + bit + 1).
	Channel int

	// State is the new bit value. True means the pin reads high.
	State bool
}

// Payload returns the wire payload for the transition's state.
func (t Transition) Payload() string {
	if t.State {
		return PayloadOpen
	}
	return PayloadClosed
}

// Channel computes the 1-based channel index for a byte and bit position.
func Channel(byteIndex, bit int) int {
	return byteIndex*bitsPerByte + bit + 1
}

// Diff returns the transitions from previous to current in ascending
// byte, then bit order.
//
// A nil previous yields no transitions: the first reading is a baseline.
// Snapshots of different lengths indicate a changed device set, which
// cannot happen after startup, so Diff panics.
func Diff(previous, current Snapshot) []Transition {
	if previous == nil {
		return nil
	}
	if len(previous) != len(current) {
		panic(fmt.Sprintf("contact: snapshot length changed from %d to %d", len(previous), len(current)))
	}

	var out []Transition
	for i, cur := range current {
		changed := cur ^ previous[i]
		if changed == 0 {
			continue
		}
		for b := 0; b < bitsPerByte; b++ {
			mask := byte(1) << b
			if changed&mask == 0 {
				continue
			}
			out = append(out, Transition{
				Channel: Channel(i, b),
				State:   cur&mask != 0,
			})
		}
	}
	return out
}
