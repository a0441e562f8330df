package canvas

import (
	"math"
	"testing"
	"time"

	"github.com/starford/fabula/internal/story"
)

func strPtr(s string) *string { return &s }

func testTree(t *testing.T) *story.Tree {
	t.Helper()
	tr := story.NewTree("R", "root scene")
	var err error
	for _, child := range []string{"C1", "C2", "C3"} {
		tr.Nodes[child] = &story.Node{ID: child, Level: 1, ParentNodeID: strPtr("R")}
		tr, err = tr.AppendAction("R", story.ActionBinding{
			Action:       story.Action{ID: story.Committed("a-" + child), Description: "to " + child, IsKey: true},
			TargetNodeID: strPtr(child),
		})
		if err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
	}
	tr.Nodes["G1"] = &story.Node{ID: "G1", Level: 2, ParentNodeID: strPtr("C1")}
	return tr
}

func TestDefaultPositionsIdempotent(t *testing.T) {
	tr := testTree(t)
	first := DefaultPositions(tr)
	second := DefaultPositions(tr)
	if len(first) != len(tr.Nodes) {
		t.Fatalf("positions = %d, want %d", len(first), len(tr.Nodes))
	}
	for id, p := range first {
		if second[id] != p {
			t.Errorf("node %s: %v then %v", id, p, second[id])
		}
	}
}

func TestDefaultPositionsSpacing(t *testing.T) {
	tr := testTree(t)
	pos := DefaultPositions(tr)

	// Same level shares a column; deeper levels sit strictly further right.
	if pos["C1"].X != pos["C2"].X || pos["C2"].X != pos["C3"].X {
		t.Errorf("level 1 columns differ: %v %v %v", pos["C1"], pos["C2"], pos["C3"])
	}
	if !(pos["R"].X < pos["C1"].X && pos["C1"].X < pos["G1"].X) {
		t.Errorf("columns not increasing: R=%v C1=%v G1=%v", pos["R"].X, pos["C1"].X, pos["G1"].X)
	}

	// Siblings are evenly spaced in discovery order.
	gap1 := pos["C2"].Y - pos["C1"].Y
	gap2 := pos["C3"].Y - pos["C2"].Y
	if gap1 <= 0 || math.Abs(gap1-gap2) > 1e-9 {
		t.Errorf("sibling gaps %v and %v", gap1, gap2)
	}
}

func TestOverridesSurviveRecompute(t *testing.T) {
	tr := testTree(t)
	l := NewLayout(tr)
	l.SetOverride("C2", Position{X: 500, Y: 42})

	tr2, err := tr.SetScene("R", "changed")
	if err != nil {
		t.Fatal(err)
	}
	l.SetTree(tr2)

	if p, _ := l.Position("C2"); p != (Position{X: 500, Y: 42}) {
		t.Errorf("override lost: %v", p)
	}

	l.Reset()
	if p, _ := l.Position("C2"); p != DefaultPositions(tr2)["C2"] {
		t.Errorf("reset did not restore default: %v", p)
	}
}

func TestZoomResetIsExact(t *testing.T) {
	v := NewView()
	v.ZoomIn()
	v.PanBy(330, -75)
	v.WheelZoom(3, time.Now())
	v.ZoomOut()
	v.PanBy(-12, 990)

	v.Reset()
	vb := v.ViewBox()
	want := ViewBox{X: 0, Y: 0, Width: BaseViewportWidth, Height: BaseViewportHeight}
	if vb != want {
		t.Errorf("viewBox after reset = %+v, want %+v", vb, want)
	}
}

func TestZoomKeepsCenter(t *testing.T) {
	v := NewView()
	v.PanBy(100, 60)
	before := v.ViewBox()
	cx := before.X + before.Width/2
	cy := before.Y + before.Height/2

	v.ZoomIn()
	after := v.ViewBox()
	if math.Abs(after.X+after.Width/2-cx) > 1e-9 || math.Abs(after.Y+after.Height/2-cy) > 1e-9 {
		t.Errorf("center moved: %+v", after)
	}
	if math.Abs(after.Width-before.Width/zoomStep) > 1e-9 {
		t.Errorf("width = %v, want %v", after.Width, before.Width/zoomStep)
	}
}

func TestWheelZoomThrottled(t *testing.T) {
	v := NewView()
	now := time.Now()
	if !v.WheelZoom(1, now) {
		t.Fatal("first wheel event dropped")
	}
	if v.WheelZoom(1, now.Add(10*time.Millisecond)) {
		t.Error("second event within throttle window applied")
	}
	if !v.WheelZoom(1, now.Add(wheelThrottle)) {
		t.Error("event after throttle window dropped")
	}
}

func TestScreenToLogical(t *testing.T) {
	v := NewView()
	v.PanBy(200, 100)
	v.ZoomIn()

	vb := v.ViewBox()
	// Top-left and bottom-right of a 640x400 rendered viewport.
	tl := v.ScreenToLogical(0, 0, 640, 400)
	br := v.ScreenToLogical(640, 400, 640, 400)
	if math.Abs(tl.X-vb.X) > 1e-9 || math.Abs(tl.Y-vb.Y) > 1e-9 {
		t.Errorf("top-left = %v, want viewBox origin %v,%v", tl, vb.X, vb.Y)
	}
	if math.Abs(br.X-(vb.X+vb.Width)) > 1e-9 || math.Abs(br.Y-(vb.Y+vb.Height)) > 1e-9 {
		t.Errorf("bottom-right = %v", br)
	}
}

func TestSnapToGrid(t *testing.T) {
	cases := []struct {
		name string
		zoom float64
		in   Position
		want Position
	}{
		{"within threshold", 1, Position{X: 97, Y: 204}, Position{X: 100, Y: 200}},
		{"outside threshold", 1, Position{X: 110, Y: 150}, Position{X: 110, Y: 150}},
		{"mixed axes", 1, Position{X: 61, Y: 129}, Position{X: 60, Y: 129}},
		{"zoomed grid shrinks", 2, Position{X: 94, Y: 0}, Position{X: 94, Y: 0}},
		{"zoomed snap", 2, Position{X: 93, Y: 0}, Position{X: 90, Y: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SnapToGrid(tc.in, tc.zoom); got != tc.want {
				t.Errorf("SnapToGrid(%v, %v) = %v, want %v", tc.in, tc.zoom, got, tc.want)
			}
		})
	}
}

func TestDragStaysInsideViewBox(t *testing.T) {
	tr := testTree(t)
	l := NewLayout(tr)
	v := NewView()

	vectors := []Position{
		{X: 0, Y: 0},
		{X: 5000, Y: 0},
		{X: -5000, Y: -5000},
		{X: 123.4, Y: -87.6},
		{X: 0, Y: 99999},
	}
	for _, vec := range vectors {
		for id := range tr.Nodes {
			d, err := BeginDrag(l, id, Position{X: 10, Y: 10})
			if err != nil {
				t.Fatalf("BeginDrag(%s): %v", id, err)
			}
			end := d.End(Position{X: 10 + vec.X, Y: 10 + vec.Y}, v)

			vb := v.ViewBox()
			if end.X < vb.X+clampMargin || end.X+NodeWidth > vb.X+vb.Width-clampMargin ||
				end.Y < vb.Y+clampMargin || end.Y+NodeHeight > vb.Y+vb.Height-clampMargin {
				t.Errorf("node %s vector %v: released at %v outside clamped box %+v", id, vec, end, vb)
			}
			if p, _ := l.Position(id); p != end {
				t.Errorf("override not recorded: %v vs %v", p, end)
			}
		}
	}
}

func TestFitToViewBoundsAllNodes(t *testing.T) {
	tr := testTree(t)
	l := NewLayout(tr)
	l.SetOverride("G1", Position{X: 2100, Y: -400})
	v := NewView()
	v.FitToView(l.Positions())

	vb := v.ViewBox()
	for id, p := range l.Positions() {
		if p.X < vb.X || p.X+NodeWidth > vb.X+vb.Width || p.Y < vb.Y || p.Y+NodeHeight > vb.Y+vb.Height {
			t.Errorf("node %s at %v outside fitted viewBox %+v", id, p, vb)
		}
	}
}

func TestConnectionCurveAnchors(t *testing.T) {
	from := Position{X: 100, Y: 200}
	to := Position{X: 500, Y: 320}
	c := ConnectionCurve(from, to)

	if c.X1 != from.X+NodeWidth || c.Y1 != from.Y+NodeHeight/2 {
		t.Errorf("source anchor = %v,%v", c.X1, c.Y1)
	}
	if c.X2 != to.X || c.Y2 != to.Y+NodeHeight/2 {
		t.Errorf("target anchor = %v,%v", c.X2, c.Y2)
	}
	if c.CX1 <= c.X1 || c.CX2 >= c.X2 {
		t.Errorf("control points do not extend outward: %+v", c)
	}
}
