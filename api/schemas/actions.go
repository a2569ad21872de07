package schemas

import (
	"context"
	"fmt"
)

// ActionKind names one member of the closed set of actions a computer-use
// model can prescribe.
type ActionKind string

const (
	KindClick       ActionKind = "click"
	KindDoubleClick ActionKind = "double_click"
	KindDrag        ActionKind = "drag"
	KindMove        ActionKind = "move"
	KindType        ActionKind = "type"
	KindKeypress    ActionKind = "keypress"
	KindScroll      ActionKind = "scroll"
	KindWait        ActionKind = "wait"
	KindScreenshot  ActionKind = "screenshot"
	// KindMarkDone is the terminal marker. The model emits it as a function
	// call once it considers the task complete or blocked.
	KindMarkDone ActionKind = "mark_done"
)

// MouseButton identifies the button used by a click action.
type MouseButton string

const (
	ButtonLeft    MouseButton = "left"
	ButtonRight   MouseButton = "right"
	ButtonWheel   MouseButton = "wheel"
	ButtonBack    MouseButton = "back"
	ButtonForward MouseButton = "forward"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Action is a sealed sum type. Only the variants declared in this file
// implement it, and Accept routes each variant to the matching visitor method,
// so a new variant cannot be added without every ActionVisitor failing to
// compile until it handles it.
type Action interface {
	Kind() ActionKind
	Accept(ctx context.Context, v ActionVisitor) error
	sealed()
}

// ActionVisitor handles every Action variant.
type ActionVisitor interface {
	VisitClick(ctx context.Context, a ClickAction) error
	VisitDoubleClick(ctx context.Context, a DoubleClickAction) error
	VisitDrag(ctx context.Context, a DragAction) error
	VisitMove(ctx context.Context, a MoveAction) error
	VisitType(ctx context.Context, a TypeAction) error
	VisitKeypress(ctx context.Context, a KeypressAction) error
	VisitScroll(ctx context.Context, a ScrollAction) error
	VisitWait(ctx context.Context, a WaitAction) error
	VisitScreenshot(ctx context.Context, a ScreenshotAction) error
	VisitMarkDone(ctx context.Context, a MarkDone) error
}

// -- UI Action Variants --

// ClickAction presses and releases a mouse button at a coordinate.
type ClickAction struct {
	Button MouseButton `json:"button"`
	X      int         `json:"x"`
	Y      int         `json:"y"`
}

// DoubleClickAction performs two left clicks in quick succession.
type DoubleClickAction struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DragAction presses the left button at the first point, moves through the
// path and releases at the last point.
type DragAction struct {
	Path []Point `json:"path"`
}

// MoveAction moves the pointer without pressing any button.
type MoveAction struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TypeAction inserts text into whatever element has focus.
type TypeAction struct {
	Text string `json:"text"`
}

// KeypressAction presses a key combination, e.g. ["CTRL", "A"].
type KeypressAction struct {
	Keys []string `json:"keys"`
}

// ScrollAction scrolls by (ScrollX, ScrollY) with the pointer at (X, Y).
type ScrollAction struct {
	X       int `json:"x"`
	Y       int `json:"y"`
	ScrollX int `json:"scroll_x"`
	ScrollY int `json:"scroll_y"`
}

// WaitAction asks the executor to let the page settle.
type WaitAction struct{}

// ScreenshotAction asks only for a fresh screenshot.
type ScreenshotAction struct{}

// MarkDone is the terminal marker.
type MarkDone struct {
	// Arguments is the raw JSON argument string of the function call.
	Arguments string `json:"arguments,omitempty"`
}

func (ClickAction) Kind() ActionKind       { return KindClick }
func (DoubleClickAction) Kind() ActionKind { return KindDoubleClick }
func (DragAction) Kind() ActionKind        { return KindDrag }
func (MoveAction) Kind() ActionKind        { return KindMove }
func (TypeAction) Kind() ActionKind        { return KindType }
func (KeypressAction) Kind() ActionKind    { return KindKeypress }
func (ScrollAction) Kind() ActionKind      { return KindScroll }
func (WaitAction) Kind() ActionKind        { return KindWait }
func (ScreenshotAction) Kind() ActionKind  { return KindScreenshot }
func (MarkDone) Kind() ActionKind          { return KindMarkDone }

func (a ClickAction) Accept(ctx context.Context, v ActionVisitor) error { return v.VisitClick(ctx, a) }
func (a DoubleClickAction) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitDoubleClick(ctx, a)
}
func (a DragAction) Accept(ctx context.Context, v ActionVisitor) error { return v.VisitDrag(ctx, a) }
func (a MoveAction) Accept(ctx context.Context, v ActionVisitor) error { return v.VisitMove(ctx, a) }
func (a TypeAction) Accept(ctx context.Context, v ActionVisitor) error { return v.VisitType(ctx, a) }
func (a KeypressAction) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitKeypress(ctx, a)
}
func (a ScrollAction) Accept(ctx context.Context, v ActionVisitor) error { return v.VisitScroll(ctx, a) }
func (a WaitAction) Accept(ctx context.Context, v ActionVisitor) error   { return v.VisitWait(ctx, a) }
func (a ScreenshotAction) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitScreenshot(ctx, a)
}
func (a MarkDone) Accept(ctx context.Context, v ActionVisitor) error { return v.VisitMarkDone(ctx, a) }

func (ClickAction) sealed()       {}
func (DoubleClickAction) sealed() {}
func (DragAction) sealed()        {}
func (MoveAction) sealed()        {}
func (TypeAction) sealed()        {}
func (KeypressAction) sealed()    {}
func (ScrollAction) sealed()      {}
func (WaitAction) sealed()        {}
func (ScreenshotAction) sealed()  {}
func (MarkDone) sealed()          {}

// IsTerminal reports whether the action ends the conversation.
func IsTerminal(a Action) bool {
	_, ok := a.(MarkDone)
	return ok
}

// Validate checks the coordinate and payload constraints of an action.
func Validate(a Action) error {
	switch act := a.(type) {
	case nil:
		return fmt.Errorf("action is nil")
	case ClickAction:
		switch act.Button {
		case ButtonLeft, ButtonRight, ButtonWheel, ButtonBack, ButtonForward:
		default:
			return fmt.Errorf("click: unsupported button %q", act.Button)
		}
		return validatePoint(act.X, act.Y)
	case DoubleClickAction:
		return validatePoint(act.X, act.Y)
	case MoveAction:
		return validatePoint(act.X, act.Y)
	case ScrollAction:
		return validatePoint(act.X, act.Y)
	case DragAction:
		if len(act.Path) < 2 {
			return fmt.Errorf("drag: path needs at least two points, got %d", len(act.Path))
		}
		for _, p := range act.Path {
			if err := validatePoint(p.X, p.Y); err != nil {
				return err
			}
		}
	case KeypressAction:
		if len(act.Keys) == 0 {
			return fmt.Errorf("keypress: no keys")
		}
	}
	return nil
}

func validatePoint(x, y int) error {
	if x < 0 || y < 0 {
		return fmt.Errorf("coordinate (%d,%d) is outside the viewport", x, y)
	}
	return nil
}
