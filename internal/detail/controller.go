// Package detail turns one focused entity into a temporary sub-graph of
// satellite nodes fed by an on-demand fetch, and reverses the expansion
// without residual state: collapse restores the focused entity's captured
// position exactly, and satellites are never persisted.
package detail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/basket/fleetview/internal/layout"
)

// State is the expansion state machine position.
type State string

const (
	StateCollapsed  State = "collapsed"
	StateExpanding  State = "expanding"
	StateExpanded   State = "expanded"
	StateCollapsing State = "collapsing"
)

// Category identifies one satellite detail node kind.
type Category string

const (
	CategorySessions    Category = "sessions"
	CategoryConnections Category = "connections"
	CategoryMemory      Category = "memory"
	CategoryWorkspace   Category = "workspace"
	CategoryStatistics  Category = "statistics"
)

// categoryOrder fixes satellite construction order so layout is
// reproducible for a given bundle.
var categoryOrder = []Category{
	CategorySessions,
	CategoryConnections,
	CategoryMemory,
	CategoryWorkspace,
	CategoryStatistics,
}

// SessionInfo is one session row in the detail bundle.
type SessionInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// ConnectionInfo is one peer link in the detail bundle.
type ConnectionInfo struct {
	PeerID    string `json:"peer_id"`
	Direction string `json:"direction"` // "in" or "out"
}

// MemoryPreview is one recent-memory row in the detail bundle.
type MemoryPreview struct {
	Key     string `json:"key"`
	Preview string `json:"preview"`
}

// WorkspaceEntry is one workspace listing row in the detail bundle.
type WorkspaceEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Stats is the aggregate statistics block of the detail bundle.
type Stats struct {
	Messages   int `json:"messages"`
	Tasks      int `json:"tasks"`
	TokensUsed int `json:"tokens_used"`
}

// Bundle is the structured detail payload for one focused entity. Every
// category is independently optional.
type Bundle struct {
	Sessions    []SessionInfo    `json:"sessions,omitempty"`
	Connections []ConnectionInfo `json:"connections,omitempty"`
	Memory      []MemoryPreview  `json:"memory,omitempty"`
	Workspace   []WorkspaceEntry `json:"workspace,omitempty"`
	Stats       *Stats           `json:"stats,omitempty"`
}

// Fetcher retrieves the detail bundle for a focused entity.
type Fetcher interface {
	FetchDetail(ctx context.Context, entityID string) (*Bundle, error)
}

// Satellite is one temporary detail node positioned near the focused
// entity. Coordinates are box centers, same convention as the layout
// engine.
type Satellite struct {
	Category Category
	X, Y     float64
	W, H     float64
	Items    int // rows in the category (1 for statistics)
}

// Geometry defaults for satellite stacking.
const (
	satWidth      = 220.0
	satHeight     = 140.0
	columnOffset  = 280.0 // first column's distance from the captured position
	columnGap     = 40.0
	rowGap        = 24.0
	rowsPerColumn = 3
)

// Controller owns the focus/expansion state machine. All methods are safe
// for concurrent use; the fetch runs outside the lock so reads continue
// while a focus is pending.
type Controller struct {
	mu sync.Mutex

	fetcher Fetcher
	layout  *layout.Engine
	log     *slog.Logger

	state      State
	focusID    string
	focusToken string
	captured   layout.Position
	hadPos     bool
	satellites []Satellite
}

// NewController creates a collapsed controller. logger may be nil.
func NewController(f Fetcher, eng *layout.Engine, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		fetcher: f,
		layout:  eng,
		log:     logger,
		state:   StateCollapsed,
	}
}

// Focus expands the given entity. Re-focusing while already expanded is
// collapse-then-expand. A fetch completion whose focus token no longer
// matches is discarded: unfocus or refocus during the fetch wins. Fetch
// failure returns the controller to collapsed and surfaces the error; no
// partial satellite graph is ever visible.
func (c *Controller) Focus(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.state == StateExpanded || c.state == StateExpanding {
		c.collapseLocked()
	}
	pos, ok := c.layout.Position(id)
	token := uuid.NewString()
	c.state = StateExpanding
	c.focusID = id
	c.focusToken = token
	c.captured = pos
	c.hadPos = ok
	c.mu.Unlock()

	bundle, err := c.fetcher.FetchDetail(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.focusToken != token {
		c.log.Debug("stale detail fetch discarded", "entity", id)
		return nil
	}
	if err != nil {
		c.collapseLocked()
		return fmt.Errorf("detail fetch for %s: %w", id, err)
	}

	c.satellites = buildSatellites(bundle)
	c.stackLocked(0)
	c.state = StateExpanded
	c.log.Debug("entity expanded", "entity", id, "satellites", len(c.satellites))
	return nil
}

// Unfocus collapses the expansion, discarding all satellites and restoring
// the focused entity's captured position exactly.
func (c *Controller) Unfocus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collapseLocked()
}

func (c *Controller) collapseLocked() {
	if c.state == StateCollapsed {
		return
	}
	c.state = StateCollapsing
	c.satellites = nil
	if c.focusID != "" && c.hadPos {
		if err := c.layout.Restore(c.focusID, c.captured); err != nil {
			c.log.Warn("restore position after collapse", "entity", c.focusID, "error", err)
		}
	}
	c.focusID = ""
	c.focusToken = ""
	c.hadPos = false
	c.state = StateCollapsed
}

// SetSatelliteFootprint records a changed rendered size for one satellite
// (e.g. an expanded inline preview) and restacks its column and every
// column to its right. Re-running with unchanged sizes moves nothing.
func (c *Controller) SetSatelliteFootprint(cat Category, w, h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateExpanded || w <= 0 || h <= 0 {
		return
	}
	for i := range c.satellites {
		if c.satellites[i].Category == cat {
			c.satellites[i].W = w
			c.satellites[i].H = h
			c.stackLocked(i / rowsPerColumn)
			return
		}
	}
}

// State returns the current state machine position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FocusedID returns the currently focused entity id, if any.
func (c *Controller) FocusedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusID
}

// Satellites returns a copy of the current satellite set.
func (c *Controller) Satellites() []Satellite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Satellite, len(c.satellites))
	copy(out, c.satellites)
	return out
}

func buildSatellites(b *Bundle) []Satellite {
	var out []Satellite
	add := func(cat Category, items int) {
		if items > 0 {
			out = append(out, Satellite{Category: cat, W: satWidth, H: satHeight, Items: items})
		}
	}
	for _, cat := range categoryOrder {
		switch cat {
		case CategorySessions:
			add(cat, len(b.Sessions))
		case CategoryConnections:
			add(cat, len(b.Connections))
		case CategoryMemory:
			add(cat, len(b.Memory))
		case CategoryWorkspace:
			add(cat, len(b.Workspace))
		case CategoryStatistics:
			if b.Stats != nil {
				add(cat, 1)
			}
		}
	}
	return out
}

// stackLocked recomputes satellite positions from the captured position,
// starting at column fromCol. Positions are an absolute function of the
// captured point and the satellite sizes, so restacking is idempotent.
// Columns left of fromCol keep their coordinates; their widths still feed
// the x offsets of later columns, so widening an earlier column pushes
// later columns right rather than under it.
func (c *Controller) stackLocked(fromCol int) {
	if len(c.satellites) == 0 {
		return
	}

	cols := (len(c.satellites) + rowsPerColumn - 1) / rowsPerColumn
	colWidth := make([]float64, cols)
	for i, s := range c.satellites {
		col := i / rowsPerColumn
		if s.W > colWidth[col] {
			colWidth[col] = s.W
		}
	}

	// Column center x positions, cumulative from the captured point.
	colX := make([]float64, cols)
	x := c.captured.X + columnOffset + colWidth[0]/2
	for col := 0; col < cols; col++ {
		if col > 0 {
			x += (colWidth[col-1]+colWidth[col])/2 + columnGap
		}
		colX[col] = x
	}

	for col := fromCol; col < cols; col++ {
		y := c.captured.Y
		for i := col * rowsPerColumn; i < len(c.satellites) && i < (col+1)*rowsPerColumn; i++ {
			s := &c.satellites[i]
			row := i % rowsPerColumn
			if row > 0 {
				prev := c.satellites[i-1]
				y += (prev.H+s.H)/2 + rowGap
			}
			s.X = colX[col]
			s.Y = y
		}
	}

	// Satellites never overlap each other: the same relaxation pass the
	// primary graph uses, scoped to the satellite set.
	boxes := make([]layout.Box, len(c.satellites))
	for i, s := range c.satellites {
		boxes[i] = layout.Box{ID: string(s.Category), X: s.X, Y: s.Y, W: s.W, H: s.H, Movable: true}
	}
	layout.Resolve(boxes, c.layout.Padding(), 3)
	for i, b := range boxes {
		c.satellites[i].X = b.X
		c.satellites[i].Y = b.Y
	}
}
