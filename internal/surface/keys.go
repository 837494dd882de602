package surface

import "strings"

// keyAliases maps the logical key names planners emit to X keysyms.
// Lookups are case-insensitive; names not listed pass through unchanged.
var keyAliases = map[string]string{
	"enter":      "Return",
	"return":     "Return",
	"esc":        "Escape",
	"escape":     "Escape",
	"tab":        "Tab",
	"space":      "space",
	"backspace":  "BackSpace",
	"delete":     "Delete",
	"del":        "Delete",
	"insert":     "Insert",
	"ctrl":       "ctrl",
	"control":    "ctrl",
	"alt":        "alt",
	"option":     "alt",
	"shift":      "shift",
	"cmd":        "super",
	"command":    "super",
	"meta":       "super",
	"super":      "super",
	"win":        "super",
	"up":         "Up",
	"arrowup":    "Up",
	"down":       "Down",
	"arrowdown":  "Down",
	"left":       "Left",
	"arrowleft":  "Left",
	"right":      "Right",
	"arrowright": "Right",
	"home":       "Home",
	"end":        "End",
	"pageup":     "Page_Up",
	"page_up":    "Page_Up",
	"pagedown":   "Page_Down",
	"page_down":  "Page_Down",
	"capslock":   "Caps_Lock",
	"f1":         "F1",
	"f2":         "F2",
	"f3":         "F3",
	"f4":         "F4",
	"f5":         "F5",
	"f6":         "F6",
	"f7":         "F7",
	"f8":         "F8",
	"f9":         "F9",
	"f10":        "F10",
	"f11":        "F11",
	"f12":        "F12",
}

// TranslateKey returns the X keysym for a logical key name.
func TranslateKey(name string) string {
	trimmed := strings.TrimSpace(name)
	if native, ok := keyAliases[strings.ToLower(trimmed)]; ok {
		return native
	}
	return trimmed
}

// TranslateKeys translates every key of a chord, dropping empty names.
func TranslateKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if native := TranslateKey(k); native != "" {
			out = append(out, native)
		}
	}
	return out
}

// IsModifier reports whether a translated key is a modifier.
func IsModifier(native string) bool {
	switch native {
	case "ctrl", "alt", "shift", "super":
		return true
	}
	return false
}
