package utils

import (
	"math/rand"
	"time"

	"deal-scraper/internal/types"
)

// Point is a pointer position in CSS pixels.
type Point struct {
	X, Y float64
}

// Step is one human-looking action: a pointer move, a scroll, or a pause.
type Step struct {
	Move      *Point
	ScrollBy  int
	ScrollTop bool
	Pause     time.Duration
}

// PlanInteraction produces pointer paths and scrolls for one page visit,
// starting at from. It returns the steps and the final pointer position.
func PlanInteraction(rng *rand.Rand, vp types.Viewport, from Point) ([]Step, Point) {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = viewports[0]
	}

	var steps []Step
	pos := from

	targets := 2 + rng.Intn(3)
	for i := 0; i < targets; i++ {
		dest := Point{
			X: float64(100 + rng.Intn(maxInt(vp.Width-200, 1))),
			Y: float64(100 + rng.Intn(maxInt(vp.Height-200, 1))),
		}
		n := 10 + rng.Intn(16)
		for j := 1; j <= n; j++ {
			progress := float64(j) / float64(n)
			p := Point{
				X: pos.X + (dest.X-pos.X)*progress + float64(rng.Intn(11)-5),
				Y: pos.Y + (dest.Y-pos.Y)*progress + float64(rng.Intn(11)-5),
			}
			if j == n {
				p = dest
			}
			p = clamp(p, vp)
			steps = append(steps, Step{Move: &p}, Step{Pause: jitter(rng, 10*time.Millisecond, 30*time.Millisecond)})
		}
		pos = dest
		steps = append(steps, Step{Pause: jitter(rng, 100*time.Millisecond, 300*time.Millisecond)})
	}

	scrolls := 3 + rng.Intn(4)
	for i := 0; i < scrolls; i++ {
		steps = append(steps,
			Step{ScrollBy: 200 + rng.Intn(301)},
			Step{Pause: jitter(rng, 500*time.Millisecond, 1500*time.Millisecond)},
		)
	}
	steps = append(steps,
		Step{ScrollBy: -300},
		Step{Pause: jitter(rng, 300*time.Millisecond, 800*time.Millisecond)},
		Step{ScrollTop: true},
	)

	return steps, pos
}

func jitter(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

func clamp(p Point, vp types.Viewport) Point {
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if w := float64(vp.Width - 1); p.X > w {
		p.X = w
	}
	if h := float64(vp.Height - 1); p.Y > h {
		p.Y = h
	}
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
