package clap

import (
	"math"
	"slices"
	"sort"
)

// Flip is one clap transition from the event log.
type Flip struct {
	At      int64
	Started bool
}

// Point is the clapping count that holds from At until the next point.
type Point struct {
	At       int64   `json:"at"`
	Clapping int     `json:"clapping"`
	Pct      float64 `json:"pct"`
}

// Replay reconstructs the clapping count over [from, now].
//
// The walk is anchored at the current count and moves backward through
// flips, which must be ordered newest first: a start is undone by
// decrementing, a stop by incrementing, clamped to [0,total] at every step.
// The agent total is treated as constant over the window. The result is in
// chronological order and ends with the anchor point at now.
func Replay(total, clapping int, flips []Flip, from, now int64) []Point {
	running := clampCount(clapping, total)
	rev := make([]Point, 0, len(flips)+2)
	rev = append(rev, newPoint(now, running, total))

	for _, f := range flips {
		if f.At > now || f.At < from {
			continue
		}
		rev = append(rev, newPoint(f.At, running, total))
		if f.Started {
			running--
		} else {
			running++
		}
		running = clampCount(running, total)
	}
	if from < now {
		rev = append(rev, newPoint(from, running, total))
	}

	slices.Reverse(rev)
	return rev
}

// CountAt returns the clapping count in effect at t. Times before the first
// point report the first point's count.
func CountAt(points []Point, t int64) int {
	if len(points) == 0 {
		return 0
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].At > t })
	if i == 0 {
		return points[0].Clapping
	}
	return points[i-1].Clapping
}

// Downsample picks at most maxPoints points at an even stride, always keeping
// the first and the last. A maxPoints below 2 is treated as 2.
func Downsample(points []Point, maxPoints int) []Point {
	maxPoints = max(2, maxPoints)
	if len(points) <= maxPoints {
		return points
	}
	step := float64(len(points)-1) / float64(maxPoints-1)
	out := make([]Point, 0, maxPoints)
	for i := 0; i < maxPoints; i++ {
		out = append(out, points[int(math.Round(float64(i)*step))])
	}
	return out
}

func newPoint(at int64, clapping, total int) Point {
	return Point{At: at, Clapping: clapping, Pct: CountPercent(clapping, total)}
}

func clampCount(n, total int) int {
	if n < 0 {
		return 0
	}
	if n > total {
		return max(0, total)
	}
	return n
}
