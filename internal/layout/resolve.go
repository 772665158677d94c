package layout

import "math"

// Box is an axis-aligned bounding box participating in overlap resolution.
// X, Y is the box center.
type Box struct {
	ID      string
	X, Y    float64
	W, H    float64
	Movable bool
}

// Resolve nudges intersecting boxes apart in place. For each intersecting
// pair it computes the minimal push on whichever axis resolves the overlap
// with less displacement, and moves the box that sits further in that axis's
// positive direction by exactly that amount (or the other box negatively,
// when the further one is pinned). Greedy local relaxation: up to maxPasses
// passes, stopping early once a full pass produces no movement. Converges
// for the node counts this system handles, not for adversarial input.
//
// Returns the number of passes that moved at least one box.
func Resolve(boxes []Box, padding float64, maxPasses int) int {
	passes := 0
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for i := 0; i < len(boxes); i++ {
			for j := i + 1; j < len(boxes); j++ {
				if separate(&boxes[i], &boxes[j], padding) {
					moved = true
				}
			}
		}
		if !moved {
			break
		}
		passes++
	}
	return passes
}

// Overlaps reports whether any two padded boxes intersect.
func Overlaps(boxes []Box, padding float64) bool {
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			ox, oy := overlap(&boxes[i], &boxes[j], padding)
			if ox > 0 && oy > 0 {
				return true
			}
		}
	}
	return false
}

func overlap(a, b *Box, padding float64) (ox, oy float64) {
	ox = (a.W+b.W)/2 + padding - math.Abs(b.X-a.X)
	oy = (a.H+b.H)/2 + padding - math.Abs(b.Y-a.Y)
	return ox, oy
}

// separate resolves one intersecting pair and reports whether it moved
// anything.
func separate(a, b *Box, padding float64) bool {
	ox, oy := overlap(a, b, padding)
	if ox <= 0 || oy <= 0 {
		return false
	}
	if !a.Movable && !b.Movable {
		return false
	}

	if ox <= oy {
		// Horizontal push is cheaper.
		far, near := b, a
		if a.X > b.X {
			far, near = a, b
		}
		switch {
		case far.Movable:
			far.X += ox
		default:
			near.X -= ox
		}
	} else {
		far, near := b, a
		if a.Y > b.Y {
			far, near = a, b
		}
		switch {
		case far.Movable:
			far.Y += oy
		default:
			near.Y -= oy
		}
	}
	return true
}
