package geometry

// State of the gesture state machine.
type State int

const (
	Idle State = iota
	Dragging
	Resizing
	Rotating
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	case Rotating:
		return "rotating"
	}
	return "idle"
}

// DragSession lives between pointer-down and pointer-up. Origin is a deep
// copy of the region at gesture start; every move is computed from it.
type DragSession struct {
	Mode          State
	Handle        Handle
	Origin        Region
	OriginPointer Point
}

// Editor is the crop gesture state machine for one crop session. It is not
// safe for concurrent use.
type Editor struct {
	cfg     Config
	bounds  Size
	region  Region
	session *DragSession
}

// NewRectEditor starts a rect crop session. aspectRatio 0 leaves it unlocked.
func NewRectEditor(bounds Size, aspectRatio float64, cfg Config) *Editor {
	r := DefaultRect(bounds, aspectRatio, cfg)
	return &Editor{cfg: cfg, bounds: bounds, region: Region{Rect: &r}}
}

// NewQuadEditor starts a perspective crop session.
func NewQuadEditor(bounds Size, cfg Config) *Editor {
	q := DefaultQuad(bounds, cfg)
	return &Editor{cfg: cfg, bounds: bounds, region: Region{Quad: &q}}
}

func (e *Editor) Bounds() Size   { return e.bounds }
func (e *Editor) Config() Config { return e.cfg }

// SetHitRadii replaces the handle hit radius and rotate handle offset, both in
// image pixels. Callers that zoom convert them from screen pixels first.
func (e *Editor) SetHitRadii(handle, rotateOffset float64) {
	e.cfg.HandleRadius = handle
	e.cfg.RotateHandleOffset = rotateOffset
}

// Region returns a copy of the current region.
func (e *Editor) Region() Region { return e.region.Clone() }

func (e *Editor) State() State {
	if e.session == nil {
		return Idle
	}
	return e.session.Mode
}

// Session returns the active drag session, nil when idle.
func (e *Editor) Session() *DragSession { return e.session }

// PointerDown hit-tests p and opens a drag session when something was hit.
// Handles win over the region interior.
func (e *Editor) PointerDown(p Point) State {
	e.session = nil
	var mode State
	handle := HandleNone
	switch {
	case e.region.Rect != nil:
		r := *e.region.Rect
		if handle = r.HandleAt(p, e.cfg.HandleRadius); handle != HandleNone {
			mode = Resizing
		} else if r.Contains(p) {
			mode = Dragging
		}
	case e.region.Quad != nil:
		q := *e.region.Quad
		handle = q.HandleAt(p, e.cfg.HandleRadius, e.cfg.RotateHandleOffset)
		switch {
		case handle == HandleRotate:
			mode = Rotating
		case handle != HandleNone:
			mode = Resizing
		case q.Contains(p):
			mode = Dragging
		}
	}
	if mode == Idle {
		return Idle
	}
	e.session = &DragSession{
		Mode:          mode,
		Handle:        handle,
		Origin:        e.region.Clone(),
		OriginPointer: p,
	}
	return mode
}

// PointerMove recomputes the region from the session origin and the net
// pointer delta. It is a no-op when idle.
func (e *Editor) PointerMove(p Point) Region {
	s := e.session
	if s == nil {
		return e.Region()
	}
	delta := p.Sub(s.OriginPointer)
	switch {
	case s.Origin.Rect != nil:
		var r Rect
		if s.Mode == Resizing {
			r = resizeRect(*s.Origin.Rect, s.Handle, delta, e.bounds, e.cfg)
		} else {
			r = moveRect(*s.Origin.Rect, delta, e.bounds)
		}
		e.region = Region{Rect: &r}
	case s.Origin.Quad != nil:
		var q Quad
		switch s.Mode {
		case Rotating:
			q = rotateQuad(*s.Origin.Quad, s.OriginPointer, p)
		case Resizing:
			var ok bool
			if q, ok = moveQuadCorner(*s.Origin.Quad, s.Handle, delta, e.bounds, e.cfg); !ok {
				return e.Region()
			}
		default:
			q = moveQuad(*s.Origin.Quad, delta, e.bounds)
		}
		e.region = Region{Quad: &q}
	}
	return e.Region()
}

// PointerUp ends the gesture; the region keeps its last value.
func (e *Editor) PointerUp() { e.session = nil }

// Cancel ends the gesture the same way pointer-up does.
func (e *Editor) Cancel() { e.session = nil }

// SetWidth is a numeric width edit on a rect region.
func (e *Editor) SetWidth(w float64) Region {
	if e.region.Rect != nil && e.session == nil {
		r := e.region.Rect.withWidth(w, e.bounds, e.cfg.minSizeFor(e.bounds))
		e.region = Region{Rect: &r}
	}
	return e.Region()
}

// SetHeight is a numeric height edit on a rect region.
func (e *Editor) SetHeight(h float64) Region {
	if e.region.Rect != nil && e.session == nil {
		r := e.region.Rect.withHeight(h, e.bounds, e.cfg.minSizeFor(e.bounds))
		e.region = Region{Rect: &r}
	}
	return e.Region()
}

// SetAspectRatio locks (ratio > 0) or unlocks (0) the rect and re-derives the height.
func (e *Editor) SetAspectRatio(ratio float64) Region {
	if e.region.Rect != nil && e.session == nil {
		r := *e.region.Rect
		r.AspectRatio = ratio
		r = r.withWidth(r.Width, e.bounds, e.cfg.minSizeFor(e.bounds))
		e.region = Region{Rect: &r}
	}
	return e.Region()
}
