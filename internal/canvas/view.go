package canvas

import (
	"math"
	"time"
)

// Base viewport size in logical units. The viewBox is derived from zoom
// and pan against this fixed size.
const (
	BaseViewportWidth  = 1280.0
	BaseViewportHeight = 800.0
)

const (
	zoomStep    = 1.25
	wheelFactor = 1.1
	minZoom     = 0.25
	maxZoom     = 4.0
	fitPadding  = 0.10

	// Minimum interval between applied wheel zoom events.
	wheelThrottle = 50 * time.Millisecond
)

// ViewBox is the logical rectangle currently rendered into the viewport.
type ViewBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// View holds the zoom level and pan offset of the canvas.
type View struct {
	zoom      float64
	pan       Position // viewBox origin in logical units
	lastWheel time.Time
}

// NewView creates a view at 100% zoom with the viewBox at the origin.
func NewView() *View {
	return &View{zoom: 1}
}

// Zoom returns the current zoom level.
func (v *View) Zoom() float64 { return v.zoom }

// ViewBox derives the rendered logical rectangle.
func (v *View) ViewBox() ViewBox {
	return ViewBox{
		X:      v.pan.X,
		Y:      v.pan.Y,
		Width:  BaseViewportWidth / v.zoom,
		Height: BaseViewportHeight / v.zoom,
	}
}

// ScreenToLogical converts pointer coordinates, given the rendered pixel
// size of the viewport, into logical canvas coordinates.
func (v *View) ScreenToLogical(px, py, renderedW, renderedH float64) Position {
	vb := v.ViewBox()
	return Position{
		X: vb.X + px*(vb.Width/renderedW),
		Y: vb.Y + py*(vb.Height/renderedH),
	}
}

// setZoom clamps z and applies it while keeping the viewBox center fixed.
func (v *View) setZoom(z float64) {
	z = math.Min(maxZoom, math.Max(minZoom, z))
	old := v.ViewBox()
	cx := old.X + old.Width/2
	cy := old.Y + old.Height/2
	v.zoom = z
	nw := v.ViewBox()
	v.pan = Position{X: cx - nw.Width/2, Y: cy - nw.Height/2}
}

// ZoomIn applies one discrete zoom step in.
func (v *View) ZoomIn() { v.setZoom(v.zoom * zoomStep) }

// ZoomOut applies one discrete zoom step out.
func (v *View) ZoomOut() { v.setZoom(v.zoom / zoomStep) }

// Reset returns the view to 100% zoom at the base origin.
func (v *View) Reset() {
	v.zoom = 1
	v.pan = Position{}
}

// PanBy shifts the viewBox origin by a logical delta.
func (v *View) PanBy(dx, dy float64) {
	v.pan.X += dx
	v.pan.Y += dy
}

// WheelZoom applies a continuous zoom of delta wheel steps, throttled so
// rapid wheel events do not flood the layout with updates. It reports
// whether the event was applied.
func (v *View) WheelZoom(delta float64, now time.Time) bool {
	if now.Sub(v.lastWheel) < wheelThrottle {
		return false
	}
	v.lastWheel = now
	v.setZoom(v.zoom * math.Pow(wheelFactor, delta))
	return true
}

// FitToView computes and applies the zoom/pan pair whose viewBox bounds
// every node box with about 10% padding. An empty position set resets
// the view instead.
func (v *View) FitToView(positions map[string]Position) {
	if len(positions) == 0 {
		v.Reset()
		return
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range positions {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X+NodeWidth)
		maxY = math.Max(maxY, p.Y+NodeHeight)
	}

	w := maxX - minX
	h := maxY - minY
	minX -= w * fitPadding / 2
	maxX += w * fitPadding / 2
	minY -= h * fitPadding / 2
	maxY += h * fitPadding / 2
	w = maxX - minX
	h = maxY - minY

	z := math.Min(BaseViewportWidth/w, BaseViewportHeight/h)
	v.zoom = math.Min(maxZoom, math.Max(minZoom, z))

	vb := v.ViewBox()
	v.pan = Position{
		X: minX + w/2 - vb.Width/2,
		Y: minY + h/2 - vb.Height/2,
	}
}
