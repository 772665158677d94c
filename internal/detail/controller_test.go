package detail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/fleetview/internal/layout"
)

// fakeFetcher serves canned bundles per entity id. Fetches for ids listed in
// blocked wait until release is closed.
type fakeFetcher struct {
	bundles map[string]*Bundle
	err     error
	blocked map[string]bool
	started chan string
	release chan struct{}
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, id string) (*Bundle, error) {
	if f.started != nil {
		f.started <- id
	}
	if f.blocked[id] {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.bundles[id]; ok {
		return b, nil
	}
	return &Bundle{}, nil
}

func fullBundle() *Bundle {
	return &Bundle{
		Sessions: []SessionInfo{
			{ID: "s1", Title: "triage", Active: true},
			{ID: "s2", Title: "archive"},
		},
		Connections: []ConnectionInfo{{PeerID: "ops", Direction: "out"}},
		Memory:      []MemoryPreview{{Key: "goal", Preview: "keep fleet green"}},
		Workspace:   []WorkspaceEntry{{Path: "notes.md", Size: 512}},
		Stats:       &Stats{Messages: 40, Tasks: 3, TokensUsed: 9000},
	}
}

func newTestEngine(t *testing.T, ids ...string) *layout.Engine {
	t.Helper()
	eng, err := layout.NewEngine(layout.Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	eng.Place(ids)
	return eng
}

func TestController_FocusBuildsSatellitesInOrder(t *testing.T) {
	eng := newTestEngine(t, "a", "b")
	c := NewController(&fakeFetcher{bundles: map[string]*Bundle{"a": fullBundle()}}, eng, nil)

	if err := c.Focus(context.Background(), "a"); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	if got := c.State(); got != StateExpanded {
		t.Fatalf("state = %q, want expanded", got)
	}
	if got := c.FocusedID(); got != "a" {
		t.Fatalf("focused = %q, want a", got)
	}

	sats := c.Satellites()
	want := []Category{CategorySessions, CategoryConnections, CategoryMemory, CategoryWorkspace, CategoryStatistics}
	if len(sats) != len(want) {
		t.Fatalf("satellites = %d, want %d", len(sats), len(want))
	}
	for i, cat := range want {
		if sats[i].Category != cat {
			t.Fatalf("satellite[%d] = %q, want %q", i, sats[i].Category, cat)
		}
	}
	if sats[0].Items != 2 {
		t.Fatalf("sessions items = %d, want 2", sats[0].Items)
	}
}

func TestController_EmptyCategoriesOmitted(t *testing.T) {
	eng := newTestEngine(t, "a")
	bundle := &Bundle{
		Sessions: []SessionInfo{{ID: "s1"}},
		Stats:    &Stats{Messages: 1},
	}
	c := NewController(&fakeFetcher{bundles: map[string]*Bundle{"a": bundle}}, eng, nil)

	if err := c.Focus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	sats := c.Satellites()
	if len(sats) != 2 {
		t.Fatalf("satellites = %d, want 2 (empty categories omitted)", len(sats))
	}
	if sats[0].Category != CategorySessions || sats[1].Category != CategoryStatistics {
		t.Fatalf("categories = %v %v", sats[0].Category, sats[1].Category)
	}
}

func TestController_SatellitesNeverOverlap(t *testing.T) {
	eng := newTestEngine(t, "a", "b", "c")
	c := NewController(&fakeFetcher{bundles: map[string]*Bundle{"a": fullBundle()}}, eng, nil)

	if err := c.Focus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	sats := c.Satellites()
	boxes := make([]layout.Box, len(sats))
	for i, s := range sats {
		boxes[i] = layout.Box{ID: string(s.Category), X: s.X, Y: s.Y, W: s.W, H: s.H}
	}
	if layout.Overlaps(boxes, eng.Padding()) {
		t.Fatalf("satellites overlap: %+v", sats)
	}
}

func TestController_CollapseRestoresPositionExactly(t *testing.T) {
	eng := newTestEngine(t, "a", "b")
	before, ok := eng.Position("a")
	if !ok {
		t.Fatal("no position for a")
	}
	c := NewController(&fakeFetcher{bundles: map[string]*Bundle{"a": fullBundle()}}, eng, nil)

	if err := c.Focus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	c.Unfocus()

	if got := c.State(); got != StateCollapsed {
		t.Fatalf("state = %q, want collapsed", got)
	}
	if got := len(c.Satellites()); got != 0 {
		t.Fatalf("satellites after collapse = %d, want 0", got)
	}
	after, _ := eng.Position("a")
	if after != before {
		t.Fatalf("position changed across focus cycle: before=%+v after=%+v", before, after)
	}
}

func TestController_FetchFailureCollapses(t *testing.T) {
	eng := newTestEngine(t, "a")
	wantErr := errors.New("detail endpoint down")
	c := NewController(&fakeFetcher{err: wantErr}, eng, nil)

	err := c.Focus(context.Background(), "a")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped fetch error", err)
	}
	if got := c.State(); got != StateCollapsed {
		t.Fatalf("state = %q, want collapsed after failure", got)
	}
	if got := len(c.Satellites()); got != 0 {
		t.Fatalf("satellites = %d, want none", got)
	}
}

func TestController_UnfocusDuringFetchDiscardsResult(t *testing.T) {
	eng := newTestEngine(t, "a")
	f := &fakeFetcher{
		bundles: map[string]*Bundle{"a": fullBundle()},
		blocked: map[string]bool{"a": true},
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	c := NewController(f, eng, nil)

	done := make(chan error, 1)
	go func() { done <- c.Focus(context.Background(), "a") }()

	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("fetch never started")
	}
	c.Unfocus()
	close(f.release)

	if err := <-done; err != nil {
		t.Fatalf("stale focus returned error: %v", err)
	}
	if got := c.State(); got != StateCollapsed {
		t.Fatalf("state = %q, want collapsed (stale fetch discarded)", got)
	}
	if got := len(c.Satellites()); got != 0 {
		t.Fatalf("satellites = %d, want none", got)
	}
}

func TestController_RefocusDuringFetchWins(t *testing.T) {
	eng := newTestEngine(t, "a", "b")
	f := &fakeFetcher{
		bundles: map[string]*Bundle{"a": fullBundle(), "b": {Stats: &Stats{Messages: 7}}},
		blocked: map[string]bool{"a": true},
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	c := NewController(f, eng, nil)

	done := make(chan error, 1)
	go func() { done <- c.Focus(context.Background(), "a") }()
	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("first fetch never started")
	}

	if err := c.Focus(context.Background(), "b"); err != nil {
		t.Fatalf("refocus: %v", err)
	}
	close(f.release)
	if err := <-done; err != nil {
		t.Fatalf("superseded focus returned error: %v", err)
	}

	if got := c.FocusedID(); got != "b" {
		t.Fatalf("focused = %q, want b", got)
	}
	if got := c.State(); got != StateExpanded {
		t.Fatalf("state = %q, want expanded", got)
	}
	sats := c.Satellites()
	if len(sats) != 1 || sats[0].Category != CategoryStatistics {
		t.Fatalf("satellites = %+v, want b's statistics only", sats)
	}
}

func TestController_RestackIdempotent(t *testing.T) {
	eng := newTestEngine(t, "a")
	c := NewController(&fakeFetcher{bundles: map[string]*Bundle{"a": fullBundle()}}, eng, nil)

	if err := c.Focus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	before := c.Satellites()

	// Reporting the existing size must move nothing.
	c.SetSatelliteFootprint(CategorySessions, before[0].W, before[0].H)
	after := c.Satellites()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("satellite[%d] moved on unchanged footprint: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestController_WiderFootprintPushesLaterColumns(t *testing.T) {
	eng := newTestEngine(t, "a")
	c := NewController(&fakeFetcher{bundles: map[string]*Bundle{"a": fullBundle()}}, eng, nil)

	if err := c.Focus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	before := c.Satellites()
	// Five satellites, three per column: index 3 starts the second column.
	secondColX := before[3].X

	c.SetSatelliteFootprint(CategorySessions, 400, before[0].H)
	after := c.Satellites()
	if after[3].X <= secondColX {
		t.Fatalf("second column x = %v, want > %v after widening first column", after[3].X, secondColX)
	}
}

func TestController_FootprintIgnoredWhileCollapsed(t *testing.T) {
	eng := newTestEngine(t, "a")
	c := NewController(&fakeFetcher{}, eng, nil)

	c.SetSatelliteFootprint(CategorySessions, 300, 200)
	if got := len(c.Satellites()); got != 0 {
		t.Fatalf("satellites = %d, want none while collapsed", got)
	}
}
