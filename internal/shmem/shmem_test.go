package shmem

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCoverageMap(numTargets int) CoverageMap {
	return make(CoverageMap, TargetFlagsOffset+numTargets)
}

func TestCoverageMapAccessors(t *testing.T) {
	m := newCoverageMap(4)

	binary.LittleEndian.PutUint64(m[DistOffset:], 420)
	binary.LittleEndian.PutUint64(m[CntOffset:], 7)
	m[TargetFlagsOffset+2] = 1

	assert.Equal(t, uint64(420), m.Distance())
	assert.Equal(t, uint64(7), m.StepCount())
	assert.InDelta(t, 60.0, m.AvgDistance(), 1e-9)

	assert.False(t, m.TargetHit(0))
	assert.True(t, m.TargetHit(2))
}

func TestAvgDistanceNoSteps(t *testing.T) {
	m := newCoverageMap(1)
	assert.Equal(t, 0.0, m.AvgDistance())
}

func TestResetFeedback(t *testing.T) {
	m := newCoverageMap(3)
	binary.LittleEndian.PutUint64(m[DistOffset:], 99)
	binary.LittleEndian.PutUint64(m[CntOffset:], 5)
	m[TargetFlagsOffset] = 1
	m[TargetFlagsOffset+2] = 1
	m[0] = 0xAA // coverage byte, must survive

	m.ResetFeedback(3)

	assert.Equal(t, uint64(0), m.Distance())
	assert.Equal(t, uint64(0), m.StepCount())
	for i := 0; i < 3; i++ {
		assert.False(t, m.TargetHit(i))
	}
	assert.Equal(t, byte(0xAA), m[0], "coverage bytes are not part of the feedback reset")
}

func TestCriticalAndCondMaps(t *testing.T) {
	cm := make(CriticalMap, 8)
	cm[3] = CriticalHit
	cm[5] = SolvedHit
	cm.Reset()
	for _, b := range cm {
		assert.Equal(t, byte(CriticalUnset), b)
	}

	cond := make(CondMap, 4)
	cond[1] = CondTrue
	cond.Reset()
	assert.Equal(t, byte(CondUntouched), cond[1])
}

func TestCVarMapOperand(t *testing.T) {
	cv := make(CVarMap, 8*8)
	binary.LittleEndian.PutUint64(cv[2*8:], 0xDEAD)
	binary.LittleEndian.PutUint64(cv[3*8:], 0xBEEF)

	assert.Equal(t, uint64(0xDEAD), cv.Operand(2))
	assert.Equal(t, uint64(0xBEEF), cv.Operand(3))
}
