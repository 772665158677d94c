package layout

import (
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

const coordTolerance = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < coordTolerance }

// boxesFor builds the padded-overlap check input from an engine's current
// state.
func boxesFor(e *Engine, ids []string) []Box {
	boxes := make([]Box, 0, len(ids))
	for _, id := range ids {
		p, ok := e.Position(id)
		if !ok {
			continue
		}
		fp, ok := e.footprints[id]
		if !ok {
			fp = Footprint{W: DefaultWidth, H: DefaultHeight}
		}
		boxes = append(boxes, Box{ID: id, X: p.X, Y: p.Y, W: fp.W, H: fp.H})
	}
	return boxes
}

func TestEngine_SingleEntityAtOrigin(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Place([]string{"only"})

	p, ok := e.Position("only")
	if !ok {
		t.Fatal("no position assigned")
	}
	if p.X != 0 || p.Y != 0 {
		t.Fatalf("position = (%v, %v), want origin", p.X, p.Y)
	}
}

func TestEngine_EmptySetIsNoop(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Place(nil)
	if got := e.Positions(); len(got) != 0 {
		t.Fatalf("positions = %v, want none", got)
	}
}

func TestEngine_DeterministicRingPlacement(t *testing.T) {
	ids := []string{"p", "a", "b", "c", "d", "e"}

	run := func() map[string]Position {
		e, err := NewEngine(Options{}, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		e.Place(ids)
		return e.Positions()
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two runs differ:\n first=%v\nsecond=%v", first, second)
	}
}

func TestEngine_ConcreteThreeAgentScenario(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Place([]string{"main", "psych", "ops"})

	main, _ := e.Position("main")
	if main.X != 0 || main.Y != 0 {
		t.Fatalf("main = (%v, %v), want origin", main.X, main.Y)
	}

	// Two ring entities: radius max(220, 2*90) = 220, angles at the
	// reference angle and reference + 180°.
	const radius = 220.0
	psych, _ := e.Position("psych")
	if !near(psych.X, radius*math.Cos(referenceAngle)) || !near(psych.Y, radius*math.Sin(referenceAngle)) {
		t.Fatalf("psych = (%v, %v), want ring slot 0", psych.X, psych.Y)
	}
	ops, _ := e.Position("ops")
	if !near(ops.X, radius*math.Cos(referenceAngle+math.Pi)) || !near(ops.Y, radius*math.Sin(referenceAngle+math.Pi)) {
		t.Fatalf("ops = (%v, %v), want ring slot 180°", ops.X, ops.Y)
	}

	// A fourth arrival must not move the first three.
	e.PlaceNew("spawn-1")
	for _, id := range []string{"main", "psych", "ops"} {
		got, _ := e.Position(id)
		var want Position
		switch id {
		case "main":
			want = main
		case "psych":
			want = psych
		case "ops":
			want = ops
		}
		if got != want {
			t.Fatalf("%s moved to (%v, %v) after PlaceNew", id, got.X, got.Y)
		}
	}
	if _, ok := e.Position("spawn-1"); !ok {
		t.Fatal("spawn-1 not placed")
	}
	if Overlaps(boxesFor(e, []string{"main", "psych", "ops", "spawn-1"}), e.Padding()) {
		t.Fatal("overlap remains after incremental placement")
	}
}

func TestEngine_NoOverlapPostcondition(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for n := 2; n <= 50; n++ {
		e, err := NewEngine(Options{}, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("e%02d", i)
			w := 40 + rng.Float64()*160 // within documented bounds
			h := 30 + rng.Float64()*90
			e.SetFootprint(ids[i], w, h)
		}
		e.Place(ids)

		if Overlaps(boxesFor(e, ids), e.Padding()) {
			t.Fatalf("n=%d: padded boxes overlap after resolution", n)
		}
	}
}

func TestEngine_ManualPositionStability(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Place([]string{"pinned", "a"})
	if err := e.SetManual("pinned", 123.5, -77.25); err != nil {
		t.Fatal(err)
	}

	// Unrelated arrivals never disturb a manual position.
	for i := 0; i < 10; i++ {
		e.PlaceNew(fmt.Sprintf("new-%d", i))
	}
	e.ResolveOverlaps()

	p, _ := e.Position("pinned")
	if p.X != 123.5 || p.Y != -77.25 || !p.Manual {
		t.Fatalf("pinned = %+v, want (123.5, -77.25, manual)", p)
	}

	// Full re-placement honors the override too.
	e.Place([]string{"pinned", "a", "b", "c"})
	p, _ = e.Position("pinned")
	if p.X != 123.5 || p.Y != -77.25 {
		t.Fatalf("pinned moved by Place: %+v", p)
	}
}

func TestEngine_PlaceNewFirstEntityAtOrigin(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.PlaceNew("first")
	p, _ := e.Position("first")
	if p.X != 0 || p.Y != 0 {
		t.Fatalf("first = (%v, %v), want origin", p.X, p.Y)
	}

	// Placing an already-placed id is a no-op.
	e.PlaceNew("first")
	q, _ := e.Position("first")
	if q != p {
		t.Fatalf("re-placing moved entity: %+v", q)
	}
}

func TestEngine_RestoreExact(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Place([]string{"x", "y"})
	want := Position{X: -12.125, Y: 400.0625}
	if err := e.Restore("x", want); err != nil {
		t.Fatal(err)
	}
	got, _ := e.Position("x")
	if got != want {
		t.Fatalf("restored = %+v, want %+v", got, want)
	}
}

func TestEngine_ResetClearsEverything(t *testing.T) {
	e, err := NewEngine(Options{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Place([]string{"a", "b"})
	if err := e.SetManual("a", 1, 2); err != nil {
		t.Fatal(err)
	}
	if err := e.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := e.Positions(); len(got) != 0 {
		t.Fatalf("positions after reset = %v, want none", got)
	}
}

func TestResolve_SeparatesCluster(t *testing.T) {
	boxes := []Box{
		{ID: "a", X: 0, Y: 0, W: 100, H: 60, Movable: true},
		{ID: "b", X: 0, Y: 0, W: 100, H: 60, Movable: true},
		{ID: "c", X: 0, Y: 0, W: 100, H: 60, Movable: true},
	}
	Resolve(boxes, 10, 5)
	if Overlaps(boxes, 10) {
		t.Fatalf("cluster still overlaps: %+v", boxes)
	}
}

func TestResolve_PinnedBoxNeverMoves(t *testing.T) {
	boxes := []Box{
		{ID: "pinned", X: 0, Y: 0, W: 100, H: 60, Movable: false},
		{ID: "free", X: 10, Y: 0, W: 100, H: 60, Movable: true},
	}
	Resolve(boxes, 10, 3)

	if boxes[0].X != 0 || boxes[0].Y != 0 {
		t.Fatalf("pinned box moved: %+v", boxes[0])
	}
	if Overlaps(boxes, 10) {
		t.Fatal("pair still overlaps")
	}
}

func TestResolve_CleanInputNoMovement(t *testing.T) {
	boxes := []Box{
		{ID: "a", X: 0, Y: 0, W: 50, H: 50, Movable: true},
		{ID: "b", X: 500, Y: 0, W: 50, H: 50, Movable: true},
	}
	if passes := Resolve(boxes, 10, 3); passes != 0 {
		t.Fatalf("passes = %d on clean input, want 0", passes)
	}
}
