package browser

import (
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/deskpilot/internal/surface"
)

// namedKeys maps X keysyms (as produced by surface.TranslateKey) to the
// chromedp keyboard table.
var namedKeys = map[string]string{
	"Return":    kb.Enter,
	"Escape":    kb.Escape,
	"Tab":       kb.Tab,
	"BackSpace": kb.Backspace,
	"Delete":    kb.Delete,
	"Insert":    kb.Insert,
	"space":     " ",
	"Up":        kb.ArrowUp,
	"Down":      kb.ArrowDown,
	"Left":      kb.ArrowLeft,
	"Right":     kb.ArrowRight,
	"Home":      kb.Home,
	"End":       kb.End,
	"Page_Up":   kb.PageUp,
	"Page_Down": kb.PageDown,
	"Caps_Lock": kb.CapsLock,
	"F1":        kb.F1,
	"F2":        kb.F2,
	"F3":        kb.F3,
	"F4":        kb.F4,
	"F5":        kb.F5,
	"F6":        kb.F6,
	"F7":        kb.F7,
	"F8":        kb.F8,
	"F9":        kb.F9,
	"F10":       kb.F10,
	"F11":       kb.F11,
	"F12":       kb.F12,
}

type modifierKey struct {
	key, code string
	windows   int64
	bit       input.Modifier
}

var modifierKeys = map[string]modifierKey{
	"ctrl":  {"Control", "ControlLeft", 17, input.ModifierCtrl},
	"alt":   {"Alt", "AltLeft", 18, input.ModifierAlt},
	"shift": {"Shift", "ShiftLeft", 16, input.ModifierShift},
	"super": {"Meta", "MetaLeft", 91, input.ModifierMeta},
}

// keyEvents renders a chord as CDP key events: modifiers go down in order,
// every other key is pressed and released with the modifier mask applied,
// then the modifiers are released in reverse order.
func keyEvents(keys []string) []*input.DispatchKeyEventParams {
	var (
		mods []modifierKey
		mask input.Modifier
		rest []string
	)
	for _, native := range surface.TranslateKeys(keys) {
		if m, ok := modifierKeys[native]; ok {
			mods = append(mods, m)
			continue
		}
		rest = append(rest, native)
	}

	var events []*input.DispatchKeyEventParams
	for _, m := range mods {
		mask |= m.bit
		events = append(events, input.DispatchKeyEvent(input.KeyRawDown).
			WithKey(m.key).WithCode(m.code).
			WithWindowsVirtualKeyCode(m.windows).
			WithModifiers(mask))
	}

	for _, native := range rest {
		down := input.DispatchKeyEvent(input.KeyDown).WithModifiers(mask)
		up := input.DispatchKeyEvent(input.KeyUp).WithModifiers(mask)

		if k := lookup(native); k != nil {
			down = down.WithKey(k.Key).WithCode(k.Code).
				WithWindowsVirtualKeyCode(k.Windows).WithNativeVirtualKeyCode(k.Native)
			up = up.WithKey(k.Key).WithCode(k.Code).
				WithWindowsVirtualKeyCode(k.Windows).WithNativeVirtualKeyCode(k.Native)
			// Text is only produced when no command modifier is held.
			if k.Print && mask&(input.ModifierCtrl|input.ModifierAlt|input.ModifierMeta) == 0 {
				down = down.WithText(k.Text).WithUnmodifiedText(k.Unmodified)
			}
		} else {
			down = down.WithKey(native)
			up = up.WithKey(native)
		}
		events = append(events, down, up)
	}

	for i := len(mods) - 1; i >= 0; i-- {
		mask &^= mods[i].bit
		events = append(events, input.DispatchKeyEvent(input.KeyUp).
			WithKey(mods[i].key).WithCode(mods[i].code).
			WithWindowsVirtualKeyCode(mods[i].windows).
			WithModifiers(mask))
	}
	return events
}

// lookup resolves a keysym or a single character in the chromedp table.
func lookup(native string) *kb.Key {
	s, ok := namedKeys[native]
	if !ok {
		s = native
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return nil
	}
	return kb.Keys[r]
}
