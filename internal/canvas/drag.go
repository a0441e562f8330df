package canvas

import (
	"fmt"
	"math"
)

const (
	// Grid pitch and snap threshold at 100% zoom. Both scale inversely
	// with zoom so the visual snap distance stays constant on screen.
	gridSize      = 20.0
	snapThreshold = 8.0

	// Margin kept between a dragged node box and the viewBox edge.
	clampMargin = 16.0
)

// SnapToGrid snaps each axis of p to the nearest grid multiple when it
// lies within the snap threshold; otherwise the axis is left unchanged.
func SnapToGrid(p Position, zoom float64) Position {
	grid := gridSize / zoom
	threshold := snapThreshold / zoom
	snap := func(x float64) float64 {
		nearest := math.Round(x/grid) * grid
		if math.Abs(x-nearest) <= threshold {
			return nearest
		}
		return x
	}
	return Position{X: snap(p.X), Y: snap(p.Y)}
}

// ClampToView clamps p so the node box stays inside vb minus the margin.
func ClampToView(p Position, vb ViewBox) Position {
	clamp := func(x, lo, hi float64) float64 {
		if hi < lo {
			hi = lo
		}
		return math.Min(hi, math.Max(lo, x))
	}
	return Position{
		X: clamp(p.X, vb.X+clampMargin, vb.X+vb.Width-clampMargin-NodeWidth),
		Y: clamp(p.Y, vb.Y+clampMargin, vb.Y+vb.Height-clampMargin-NodeHeight),
	}
}

// Drag is a single drag gesture on one node. All arithmetic happens in
// logical coordinates, independent of zoom and rendered resolution.
type Drag struct {
	layout *Layout
	nodeID string
	start  Position // node position when the gesture began
	origin Position // pointer position when the gesture began
}

// BeginDrag starts a drag on the given node at the given logical pointer
// position.
func BeginDrag(l *Layout, nodeID string, pointer Position) (*Drag, error) {
	start, ok := l.Position(nodeID)
	if !ok {
		return nil, fmt.Errorf("canvas: drag: node %s not in layout", nodeID)
	}
	return &Drag{layout: l, nodeID: nodeID, start: start, origin: pointer}, nil
}

// Move returns the candidate position for the current pointer location.
func (d *Drag) Move(pointer Position) Position {
	return Position{
		X: d.start.X + pointer.X - d.origin.X,
		Y: d.start.Y + pointer.Y - d.origin.Y,
	}
}

// End finishes the gesture: the candidate position is grid-snapped, then
// clamped into the current viewBox, and recorded as an explicit override.
func (d *Drag) End(pointer Position, view *View) Position {
	p := SnapToGrid(d.Move(pointer), view.Zoom())
	p = ClampToView(p, view.ViewBox())
	d.layout.SetOverride(d.nodeID, p)
	return p
}
