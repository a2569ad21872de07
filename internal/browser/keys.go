// internal/browser/keys.go
package browser

import (
	"fmt"
	"runtime"
	"strings"
	"unicode"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/cua-tester/api/schemas"
)

// namedKeys maps the upper-cased names a model uses to kb DOM keys.
var namedKeys = map[string]string{
	"ENTER":      kb.Enter,
	"RETURN":     kb.Enter,
	"TAB":        kb.Tab,
	"ESC":        kb.Escape,
	"ESCAPE":     kb.Escape,
	"BACKSPACE":  kb.Backspace,
	"DELETE":     kb.Delete,
	"DEL":        kb.Delete,
	"SPACE":      " ",
	"ARROWUP":    kb.ArrowUp,
	"UP":         kb.ArrowUp,
	"ARROWDOWN":  kb.ArrowDown,
	"DOWN":       kb.ArrowDown,
	"ARROWLEFT":  kb.ArrowLeft,
	"LEFT":       kb.ArrowLeft,
	"ARROWRIGHT": kb.ArrowRight,
	"RIGHT":      kb.ArrowRight,
	"HOME":       kb.Home,
	"END":        kb.End,
	"PAGEUP":     kb.PageUp,
	"PAGEDOWN":   kb.PageDown,
	"INSERT":     kb.Insert,
	"F1":         kb.F1,
	"F2":         kb.F2,
	"F3":         kb.F3,
	"F4":         kb.F4,
	"F5":         kb.F5,
	"F6":         kb.F6,
	"F7":         kb.F7,
	"F8":         kb.F8,
	"F9":         kb.F9,
	"F10":        kb.F10,
	"F11":        kb.F11,
	"F12":        kb.F12,
}

// modifierKey describes a held modifier.
type modifierKey struct {
	mask schemas.KeyModifier
	key  string
}

var modifierKeys = map[string]modifierKey{
	"CTRL":    {schemas.ModCtrl, kb.Control},
	"CONTROL": {schemas.ModCtrl, kb.Control},
	"SHIFT":   {schemas.ModShift, kb.Shift},
	"ALT":     {schemas.ModAlt, kb.Alt},
	"OPTION":  {schemas.ModAlt, kb.Alt},
	"META":    {schemas.ModMeta, kb.Meta},
	"CMD":     {schemas.ModMeta, kb.Meta},
	"COMMAND": {schemas.ModMeta, kb.Meta},
	"SUPER":   {schemas.ModMeta, kb.Meta},
	"WIN":     {schemas.ModMeta, kb.Meta},
}

// cdpModifiers converts the internal modifier mask to the CDP bitfield.
func cdpModifiers(mask schemas.KeyModifier) input.Modifier {
	var m input.Modifier
	if mask&schemas.ModAlt != 0 {
		m |= input.ModifierAlt
	}
	if mask&schemas.ModCtrl != 0 {
		m |= input.ModifierCtrl
	}
	if mask&schemas.ModMeta != 0 {
		m |= input.ModifierMeta
	}
	if mask&schemas.ModShift != 0 {
		m |= input.ModifierShift
	}
	return m
}

// lookupKey returns the kb definition for r, synthesizing one for runes kb
// does not know.
func lookupKey(r rune) *kb.Key {
	if k, ok := kb.Keys[r]; ok {
		return k
	}
	s := string(r)
	return &kb.Key{Key: s, Text: s, Unmodified: s, Print: unicode.IsPrint(r)}
}

// resolveKey looks up a non-modifier key name. Single characters map to
// themselves, upper-cased while Shift is held and lower-cased under other
// modifiers.
func resolveKey(name string, mask schemas.KeyModifier) (*kb.Key, error) {
	if dom, ok := namedKeys[strings.ToUpper(name)]; ok {
		return lookupKey([]rune(dom)[0]), nil
	}
	runes := []rune(name)
	if len(runes) != 1 {
		return nil, fmt.Errorf("unknown key %q", name)
	}
	r := runes[0]
	switch {
	case mask&schemas.ModShift != 0:
		r = unicode.ToUpper(r)
	case mask != schemas.ModNone:
		r = unicode.ToLower(r)
	}
	return lookupKey(r), nil
}

// keypressEvents builds the CDP sequence for a key combination: modifiers
// go down in order, the remaining keys are pressed and released, then the
// modifiers come up in reverse order.
func keypressEvents(keys []string) ([]chromedp.Action, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys")
	}

	var (
		held []modifierKey
		main []string
		mask schemas.KeyModifier
	)
	for _, k := range keys {
		name := strings.TrimSpace(k)
		if mod, ok := modifierKeys[strings.ToUpper(name)]; ok {
			held = append(held, mod)
			continue
		}
		main = append(main, name)
	}

	var events []chromedp.Action
	for _, mod := range held {
		mask |= mod.mask
		events = append(events, keyEvent(input.KeyRawDown, lookupKey([]rune(mod.key)[0]), cdpModifiers(mask), false))
	}

	// A text-producing key under Ctrl, Alt or Meta is a shortcut, not input.
	withText := mask&^schemas.ModShift == 0
	for _, name := range main {
		k, err := resolveKey(name, mask)
		if err != nil {
			return nil, err
		}
		mods := cdpModifiers(mask)
		if k.Shift {
			mods |= input.ModifierShift
		}
		if withText && k.Text != "" {
			events = append(events, keyEvent(input.KeyDown, k, mods, true))
		} else {
			events = append(events, keyEvent(input.KeyRawDown, k, mods, false))
		}
		events = append(events, keyEvent(input.KeyUp, k, mods, false))
	}

	for i := len(held) - 1; i >= 0; i-- {
		mask &^= held[i].mask
		events = append(events, keyEvent(input.KeyUp, lookupKey([]rune(held[i].key)[0]), cdpModifiers(mask), false))
	}
	return events, nil
}

func keyEvent(typ input.KeyType, k *kb.Key, mods input.Modifier, withText bool) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(typ).
		WithKey(k.Key).
		WithModifiers(mods)
	if k.Code != "" {
		p = p.WithCode(k.Code)
	}
	if k.Windows != 0 {
		p = p.WithWindowsVirtualKeyCode(k.Windows)
	}
	if k.Native != 0 && runtime.GOOS != "darwin" {
		p = p.WithNativeVirtualKeyCode(k.Native)
	}
	if withText {
		p = p.WithText(k.Text).WithUnmodifiedText(k.Unmodified)
	}
	return p
}

// -- Mouse --

func cdpButton(b schemas.MouseButton) (input.MouseButton, int64) {
	switch b {
	case schemas.ButtonRight:
		return input.Right, 2
	case schemas.ButtonWheel:
		return input.Middle, 4
	case schemas.ButtonBack:
		return input.Back, 8
	case schemas.ButtonForward:
		return input.Forward, 16
	default:
		return input.Left, 1
	}
}

func mouseMoved(x, y int, buttons int64) *input.DispatchMouseEventParams {
	return input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)).
		WithButton(input.None).
		WithButtons(buttons)
}

// clickEvents moves to (x, y) then presses and releases the button once.
// clickCount is 2 for the second half of a double click.
func clickEvents(b schemas.MouseButton, x, y int, clickCount int64) []chromedp.Action {
	button, mask := cdpButton(b)
	return []chromedp.Action{
		mouseMoved(x, y, 0),
		input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
			WithButton(button).WithButtons(mask).WithClickCount(clickCount),
		input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).
			WithButton(button).WithButtons(0).WithClickCount(clickCount),
	}
}

// dragEvents presses the left button at the first point, moves through the
// rest of the path holding it and releases at the last point.
func dragEvents(path []schemas.Point) []chromedp.Action {
	first, last := path[0], path[len(path)-1]
	events := []chromedp.Action{
		mouseMoved(first.X, first.Y, 0),
		input.DispatchMouseEvent(input.MousePressed, float64(first.X), float64(first.Y)).
			WithButton(input.Left).WithButtons(1).WithClickCount(1),
	}
	for _, p := range path[1:] {
		events = append(events, mouseMoved(p.X, p.Y, 1))
	}
	events = append(events,
		input.DispatchMouseEvent(input.MouseReleased, float64(last.X), float64(last.Y)).
			WithButton(input.Left).WithButtons(0).WithClickCount(1))
	return events
}

func scrollEvents(a schemas.ScrollAction) []chromedp.Action {
	return []chromedp.Action{
		mouseMoved(a.X, a.Y, 0),
		input.DispatchMouseEvent(input.MouseWheel, float64(a.X), float64(a.Y)).
			WithButton(input.None).
			WithDeltaX(float64(a.ScrollX)).
			WithDeltaY(float64(a.ScrollY)),
	}
}
