// Package sched implements the runtime state machine that redistributes
// fuzzing budget across target basic blocks each cycle, pauses
// non-progressing targets with a growing back-off, and decides whether the
// campaign should keep fuzzing directed or fall back to coverage
// exploration. The update is a pure, single-threaded function of the
// previous state; "failures" are state transitions, never errors.
package sched

import (
	"math"

	"github.com/zjy-dev/cbi/internal/shmem"
)

// Status is the scheduling state of one target.
type Status int

const (
	Finished Status = iota
	Active
	Paused
)

// Mode tells the fuzzer how to spend the next cycle.
type Mode int

const (
	// Directed biases input scheduling towards unfinished targets.
	Directed Mode = iota
	// CovBased asks for general coverage exploration; returned when every
	// target is paused or finished and at least one of them is paused.
	CovBased
)

// Info is the per-target scheduling state.
type Info struct {
	Status         Status  `json:"status"`
	VulnScore      float64 `json:"vuln_score"`
	Covered        bool    `json:"covered"`
	ExecCount      uint64  `json:"exec_count"`
	CycleSkips     uint32  `json:"cycle_skips"`
	PrevCycleSkips uint32  `json:"prev_cycle_skips"`
}

// NewInfo returns the initial state for a target with the given
// vulnerability score.
func NewInfo(vulnScore float64) *Info {
	return &Info{
		Status:         Active,
		VulnScore:      vulnScore,
		PrevCycleSkips: 1,
	}
}

// reset restores a target to its initial state.
func (i *Info) reset() {
	i.Status = Active
	i.Covered = false
	i.ExecCount = 0
	i.CycleSkips = 0
	i.PrevCycleSkips = 1
}

// UpdateStatus performs one scheduling cycle over all targets.
//
// Each active or paused target is owed a share of cycleLength proportional
// to its vulnerability score (reduced by hcReductFactor; a factor of 1
// degrades every requirement to a single execution). Targets that already
// received their share finish. Covered targets reactivate with their
// back-off reset; uncovered ones pause for a number of cycles that grows by
// one with every consecutive pause.
//
// When every target has finished, targets scoring at least
// vulnScoreThreshold are restored to their initial state and the campaign
// stays directed. When the remainder is entirely paused or finished, the
// fuzzer is asked to explore coverage instead.
func UpdateStatus(infos []*Info, cycleLength uint64, hcReductFactor float64, vulnScoreThreshold float64) Mode {
	mode := Directed

	sumVulnScore := 0.0
	for _, info := range infos {
		if info.Status == Active || info.Status == Paused {
			sumVulnScore += info.VulnScore
		}
	}

	var numPaused, numFinished uint32

	for _, info := range infos {
		if info.Status == Active || info.Status == Paused {
			reqExecs := int64(math.Round(float64(cycleLength) * (info.VulnScore / sumVulnScore)))

			if hcReductFactor == 1.0 {
				reqExecs = 1
			} else {
				reqExecs -= int64(float64(reqExecs) * hcReductFactor)
			}

			execDiff := reqExecs - int64(info.ExecCount)

			if execDiff <= 0 {
				// The target received enough input executions, regardless of
				// whether it was active or paused.
				info.Status = Finished
			} else {
				if info.Covered {
					// An executed target is reactivated in the next cycle,
					// paused or not.
					info.Status = Active
					info.CycleSkips = 0
					info.PrevCycleSkips = 1
				} else {
					if info.CycleSkips == 0 {
						info.Status = Paused
						info.CycleSkips = info.PrevCycleSkips
						info.PrevCycleSkips++
					} else {
						// Reactivate once the target has been paused long
						// enough.
						if info.CycleSkips-1 == 0 {
							info.Status = Active
							info.CycleSkips = 0
						} else {
							info.CycleSkips--
						}
					}
				}
			}

			info.Covered = false
		}

		if info.Status == Paused {
			numPaused++
		}
		if info.Status == Finished {
			numFinished++
		}
	}

	if numFinished == uint32(len(infos)) {
		// Everything finished: refocus on the high-scoring targets.
		for _, info := range infos {
			if info.VulnScore >= vulnScoreThreshold {
				info.reset()
			}
		}
	} else if numFinished+numPaused == uint32(len(infos)) {
		// Stuck: no target can make progress right now.
		mode = CovBased
	}

	return mode
}

// Harvest transfers the per-target hit flags of the last execution from the
// coverage map into the scheduler state and clears them, so the map is ready
// for the next run.
func Harvest(infos []*Info, cov shmem.CoverageMap) {
	for i, info := range infos {
		if cov.TargetHit(i) {
			info.Covered = true
			info.ExecCount++
		}
	}
	cov.ResetFeedback(len(infos))
}
