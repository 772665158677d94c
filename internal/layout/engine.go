// Package layout computes 2D positions for the entity graph: deterministic
// ring placement, a footprint-driven overlap-resolution pass, and persisted
// manual overrides. The engine owns position records exclusively and never
// touches entity fields.
package layout

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Position is a computed or user-pinned coordinate for one entity.
// Coordinates are box centers.
type Position struct {
	X, Y float64
	// Manual marks a user-dragged override. Manual positions are never
	// moved by placement or overlap resolution; only another drag or a
	// full layout reset replaces them.
	Manual bool
}

// Footprint is the rendered size of an entity's box as reported by the
// renderer (measure-then-resolve protocol).
type Footprint struct {
	W, H float64
}

// Default footprint used until the renderer reports a measurement.
const (
	DefaultWidth  = 160.0
	DefaultHeight = 80.0
)

// referenceAngle fixes the first ring slot at twelve o'clock so placement is
// reproducible for a given entity order.
const referenceAngle = -math.Pi / 2

// Options tunes placement geometry. Zero values take the documented
// defaults.
type Options struct {
	MinRadius float64 // ring radius floor (default 220)
	Spacing   float64 // per-entity radius growth (default 90)
	Padding   float64 // margin added around every footprint (default 20)
	MaxPasses int     // overlap resolution pass limit (default 3)
}

func (o Options) withDefaults() Options {
	if o.MinRadius <= 0 {
		o.MinRadius = 220
	}
	if o.Spacing <= 0 {
		o.Spacing = 90
	}
	if o.Padding <= 0 {
		o.Padding = 20
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = 3
	}
	return o
}

// Engine assigns and retains positions for a set of entity ids.
type Engine struct {
	mu sync.Mutex

	opts       Options
	positions  map[string]Position
	order      []string // placement order, fixes pair iteration
	footprints map[string]Footprint

	store *PositionStore // nil disables persistence
	log   *slog.Logger
}

// NewEngine creates an engine. If store is non-nil, previously persisted
// manual positions are loaded and honored as overrides. logger may be nil.
func NewEngine(opts Options, store *PositionStore, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		opts:       opts.withDefaults(),
		positions:  make(map[string]Position),
		footprints: make(map[string]Footprint),
		store:      store,
		log:        logger,
	}
	if store != nil {
		persisted, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("load persisted positions: %w", err)
		}
		for id, p := range persisted {
			if p.Manual {
				e.positions[id] = p
				e.order = append(e.order, id)
			}
		}
	}
	return e, nil
}

// Place runs full initial placement for ids (canonical order). The first id
// without a manual override is the primary and goes to the origin; the rest
// are spaced evenly on a ring. Entities with manual positions keep them and
// are excluded from ring math. A single entity goes to the origin with no
// ring math; an empty set is a no-op.
func (e *Engine) Place(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	var ring []string
	for _, id := range ids {
		if p, ok := e.positions[id]; ok && p.Manual {
			continue
		}
		ring = append(ring, id)
	}
	e.order = append([]string(nil), ids...)

	if len(ring) > 0 {
		e.positions[ring[0]] = Position{X: 0, Y: 0}
	}
	if n := len(ring) - 1; n > 0 {
		radius := math.Max(e.opts.MinRadius, float64(n)*e.opts.Spacing)
		step := 2 * math.Pi / float64(n)
		for i, id := range ring[1:] {
			angle := referenceAngle + float64(i)*step
			e.positions[id] = Position{
				X: radius * math.Cos(angle),
				Y: radius * math.Sin(angle),
			}
		}
	}

	e.resolveLocked(e.order, nil)
}

// goldenAngle spreads incremental arrivals around the ring without
// re-running the full placement.
const goldenAngle = 2.399963229728653

// PlaceNew places one newly arrived entity without disturbing the existing
// layout: already-placed entities are never recomputed, only used as
// obstacles for the new entity's overlap pass.
func (e *Engine) PlaceNew(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[id]; ok {
		return
	}

	k := len(e.order)
	if k == 0 {
		e.positions[id] = Position{X: 0, Y: 0}
		e.order = append(e.order, id)
		return
	}

	radius := math.Max(e.opts.MinRadius, float64(k)*e.opts.Spacing)
	angle := referenceAngle + float64(k)*goldenAngle
	e.positions[id] = Position{
		X: radius * math.Cos(angle),
		Y: radius * math.Sin(angle),
	}
	e.order = append(e.order, id)

	movable := map[string]bool{id: true}
	e.resolveLocked(e.order, movable)
}

// SetFootprint records an entity's measured box size. The next resolution
// pass consumes it; measurement itself never moves anything.
func (e *Engine) SetFootprint(id string, w, h float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w <= 0 || h <= 0 {
		return
	}
	e.footprints[id] = Footprint{W: w, H: h}
}

// ResolveOverlaps re-runs the overlap pass over every placed entity using
// the current footprint table. Manual positions do not move. Returns the
// number of passes that produced movement.
func (e *Engine) ResolveOverlaps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(e.order, nil)
}

// SetManual pins an entity to a user-dragged position and persists it.
func (e *Engine) SetManual(id string, x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[id]; !ok {
		e.order = append(e.order, id)
	}
	p := Position{X: x, Y: y, Manual: true}
	e.positions[id] = p
	if e.store != nil {
		if err := e.store.Save(id, p); err != nil {
			return fmt.Errorf("persist manual position: %w", err)
		}
	}
	return nil
}

// Restore sets an entity's position to an exact prior value. Used by the
// detail controller to undo an expansion; persistence is rewritten only for
// manual positions.
func (e *Engine) Restore(id string, p Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[id]; !ok {
		e.order = append(e.order, id)
	}
	e.positions[id] = p
	if p.Manual && e.store != nil {
		if err := e.store.Save(id, p); err != nil {
			return fmt.Errorf("persist restored position: %w", err)
		}
	}
	return nil
}

// Position returns the current position for an entity.
func (e *Engine) Position(id string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[id]
	return p, ok
}

// Positions returns a copy of the full position table.
func (e *Engine) Positions() map[string]Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Position, len(e.positions))
	for id, p := range e.positions {
		out[id] = p
	}
	return out
}

// Padding returns the configured footprint margin.
func (e *Engine) Padding() float64 { return e.opts.Padding }

// Reset clears all positions, footprints, and persisted state.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = make(map[string]Position)
	e.footprints = make(map[string]Footprint)
	e.order = nil
	if e.store != nil {
		if err := e.store.Clear(); err != nil {
			return fmt.Errorf("clear persisted positions: %w", err)
		}
	}
	return nil
}

// resolveLocked runs the overlap pass over ids. movable limits which boxes
// may move; nil means every non-manual box. Returns passes that moved
// something.
func (e *Engine) resolveLocked(ids []string, movable map[string]bool) int {
	boxes := make([]Box, 0, len(ids))
	for _, id := range ids {
		p, ok := e.positions[id]
		if !ok {
			continue
		}
		fp, ok := e.footprints[id]
		if !ok {
			fp = Footprint{W: DefaultWidth, H: DefaultHeight}
		}
		canMove := !p.Manual
		if movable != nil {
			canMove = movable[id] && !p.Manual
		}
		boxes = append(boxes, Box{
			ID: id, X: p.X, Y: p.Y, W: fp.W, H: fp.H, Movable: canMove,
		})
	}

	passes := Resolve(boxes, e.opts.Padding, e.opts.MaxPasses)
	for _, b := range boxes {
		p := e.positions[b.ID]
		p.X, p.Y = b.X, b.Y
		e.positions[b.ID] = p
	}
	if passes > 0 {
		e.log.Debug("layout overlap pass", "boxes", len(boxes), "passes", passes)
	}
	return passes
}
