package runner

import (
	"fmt"
	"math"
	"time"
)

// Stage is one leg of a ramp profile: over Duration the number of virtual
// users moves linearly from the previous stage's target to Target.
type Stage struct {
	Duration time.Duration
	Target   int
}

// Schedule is an immutable, compiled ramp profile. The target concurrency is a
// pure function of elapsed time.
type Schedule struct {
	startTarget int
	stages      []Stage
	segments    []segment
	duration    time.Duration
	maxTarget   int
	resolution  time.Duration
}

type segment struct {
	start    time.Duration
	duration time.Duration
	from     float64
	to       float64
}

const (
	maxResolution = 100 * time.Millisecond
	minResolution = time.Millisecond
)

// NewSchedule compiles stages into a schedule that starts at startTarget
// virtual users. Every stage needs a positive duration and a non-negative
// target.
func NewSchedule(startTarget int, stages []Stage) (*Schedule, error) {
	if startTarget < 0 {
		return nil, fmt.Errorf("start_vus: must be >= 0")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("stages: at least one stage is required")
	}

	s := &Schedule{
		startTarget: startTarget,
		stages:      append([]Stage(nil), stages...),
		maxTarget:   startTarget,
		resolution:  maxResolution,
	}
	from := float64(startTarget)
	var offset time.Duration
	for i, st := range stages {
		if st.Duration <= 0 {
			return nil, fmt.Errorf("stages[%d].duration: must be > 0", i)
		}
		if st.Target < 0 {
			return nil, fmt.Errorf("stages[%d].target: must be >= 0", i)
		}
		seg := segment{start: offset, duration: st.Duration, from: from, to: float64(st.Target)}
		s.segments = append(s.segments, seg)
		s.resolution = minDuration(s.resolution, seg.resolution())
		if st.Target > s.maxTarget {
			s.maxTarget = st.Target
		}
		offset += st.Duration
		from = seg.to
	}
	s.duration = offset
	return s, nil
}

// resolution is half the time the segment needs to move by one virtual user.
func (seg segment) resolution() time.Duration {
	delta := math.Abs(seg.to - seg.from)
	if delta == 0 {
		return maxResolution
	}
	perUnit := time.Duration(float64(seg.duration) / delta / 2)
	if perUnit < minResolution {
		return minResolution
	}
	return minDuration(perUnit, maxResolution)
}

// TargetAt returns the interpolated concurrency at elapsed and whether the
// schedule is still running. After the last stage it reports the final target
// and false.
func (s *Schedule) TargetAt(elapsed time.Duration) (float64, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range s.segments {
		end := seg.start + seg.duration
		if elapsed >= end {
			continue
		}
		if seg.from == seg.to {
			return seg.from, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		if progress < 0 {
			progress = 0
		} else if progress > 1 {
			progress = 1
		}
		return seg.from + (seg.to-seg.from)*progress, true
	}
	return s.segments[len(s.segments)-1].to, false
}

// Desired rounds TargetAt to a whole number of virtual users.
func (s *Schedule) Desired(elapsed time.Duration) (int, bool) {
	target, running := s.TargetAt(elapsed)
	return int(math.Round(target)), running
}

// Duration is the total length of all stages.
func (s *Schedule) Duration() time.Duration { return s.duration }

// MaxTarget is the highest concurrency reached by the schedule.
func (s *Schedule) MaxTarget() int { return s.maxTarget }

// StartTarget is the concurrency at elapsed zero.
func (s *Schedule) StartTarget() int { return s.startTarget }

// Stages returns a copy of the stages the schedule was built from.
func (s *Schedule) Stages() []Stage { return append([]Stage(nil), s.stages...) }

// Resolution is the controller tick interval: short enough that the target
// moves by at most half a virtual user between ticks, and never above 100ms.
func (s *Schedule) Resolution() time.Duration { return s.resolution }

// StageAt returns the index of the stage active at elapsed, or -1 once the
// schedule has finished.
func (s *Schedule) StageAt(elapsed time.Duration) int {
	for i, seg := range s.segments {
		if elapsed < seg.start+seg.duration {
			return i
		}
	}
	return -1
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
