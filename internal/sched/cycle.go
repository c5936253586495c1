package sched

import (
	"math"
)

// CycleLength tracks the number of input executions distributed per cycle.
// The growth policy is chosen by the fuzzer host.
type CycleLength struct {
	Init    uint64
	Current uint64
}

// NewCycleLength starts at the given initial length.
func NewCycleLength(init uint64) *CycleLength {
	return &CycleLength{Init: init, Current: init}
}

// Fix resets the cycle length to its initial value.
func (c *CycleLength) Fix() {
	c.Current = c.Init
}

// Lin grows the cycle length linearly by inc.
func (c *CycleLength) Lin(inc uint32) {
	c.Current += uint64(inc)
}

// Log sets the cycle length logarithmically in the campaign duration
// (seconds), on top of the initial length.
func (c *CycleLength) Log(durSeconds uint32) {
	c.Current = uint64(math.Log2(float64(durSeconds)/60+1)*1000) + c.Init
}
