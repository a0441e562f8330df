// Package canvas computes node positions for the narrative tree and
// translates pointer gestures (drag, zoom, pan) between screen and
// logical coordinates. Everything here is pure geometry; no I/O.
package canvas

import "github.com/starford/fabula/internal/story"

// Node box dimensions in logical canvas units.
const (
	NodeWidth  = 180.0
	NodeHeight = 90.0
)

// Default layout spacing. Horizontal gaps widen slightly with depth and
// vertical gaps widen slightly with sibling count, which keeps connectors
// readable as the tree grows.
const (
	layoutOriginX  = 60.0
	levelGapBase   = 240.0
	levelGapGrow   = 12.0
	siblingGapBase = 120.0
	siblingGapGrow = 6.0
)

// Position is a node's top-left corner in logical canvas units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultPositions computes the default position for every node: columns
// by level, rows by discovery order within the level, centered on the
// base viewport's vertical midline. The result is a pure function of
// level and sibling index, so recomputing on an unchanged tree yields
// identical coordinates.
func DefaultPositions(t *story.Tree) map[string]Position {
	byLevel := make(map[int][]*story.Node)
	maxLevel := 0
	for _, n := range t.OrderedNodes() {
		byLevel[n.Level] = append(byLevel[n.Level], n)
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}

	// Column x grows by a widening gap per level.
	colX := make([]float64, maxLevel+1)
	x := layoutOriginX
	for l := 0; l <= maxLevel; l++ {
		colX[l] = x
		x += levelGapBase + float64(l)*levelGapGrow
	}

	out := make(map[string]Position, len(t.Nodes))
	centerY := BaseViewportHeight / 2
	for level, siblings := range byLevel {
		n := len(siblings)
		gap := siblingGapBase + float64(n)*siblingGapGrow
		for i, node := range siblings {
			offset := (float64(i) - float64(n-1)/2) * gap
			out[node.ID] = Position{
				X: colX[level],
				Y: centerY + offset - NodeHeight/2,
			}
		}
	}
	return out
}

// Layout holds computed default positions plus explicit per-node
// overrides set by dragging. Overrides survive recomputation until the
// layout is reset or the tree is reloaded.
type Layout struct {
	tree      *story.Tree
	overrides map[string]Position
}

// NewLayout creates a layout for the given tree.
func NewLayout(t *story.Tree) *Layout {
	return &Layout{tree: t, overrides: make(map[string]Position)}
}

// SetTree swaps in a new tree after a structural change. Overrides for
// nodes that still exist are kept.
func (l *Layout) SetTree(t *story.Tree) {
	l.tree = t
	for id := range l.overrides {
		if _, ok := t.Nodes[id]; !ok {
			delete(l.overrides, id)
		}
	}
}

// Position returns the effective position of a node.
func (l *Layout) Position(nodeID string) (Position, bool) {
	if p, ok := l.overrides[nodeID]; ok {
		return p, true
	}
	p, ok := DefaultPositions(l.tree)[nodeID]
	return p, ok
}

// Positions returns the effective position of every node.
func (l *Layout) Positions() map[string]Position {
	out := DefaultPositions(l.tree)
	for id, p := range l.overrides {
		out[id] = p
	}
	return out
}

// SetOverride pins a node to an explicit position.
func (l *Layout) SetOverride(nodeID string, p Position) {
	l.overrides[nodeID] = p
}

// Reset drops all overrides, returning every node to its default spot.
func (l *Layout) Reset() {
	l.overrides = make(map[string]Position)
}

// Curve is a cubic connection path between two node anchor points.
type Curve struct {
	X1, Y1   float64 // source anchor: right-center of the from box
	CX1, CY1 float64
	CX2, CY2 float64
	X2, Y2   float64 // target anchor: left-center of the to box
}

// ConnectionCurve computes the curve for an edge between two nodes from
// their current positions. Control points extend horizontally so the
// curve leaves and enters the boxes flat.
func ConnectionCurve(from, to Position) Curve {
	x1 := from.X + NodeWidth
	y1 := from.Y + NodeHeight/2
	x2 := to.X
	y2 := to.Y + NodeHeight/2
	bend := (x2 - x1) / 2
	if bend < 40 {
		bend = 40
	}
	return Curve{
		X1: x1, Y1: y1,
		CX1: x1 + bend, CY1: y1,
		CX2: x2 - bend, CY2: y2,
		X2: x2, Y2: y2,
	}
}
