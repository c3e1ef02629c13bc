package actions

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
)

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"insert":     input.Insert,
	"space":      input.Space,
	" ":          input.Space,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"up":         input.ArrowUp,
	"down":       input.ArrowDown,
	"left":       input.ArrowLeft,
	"right":      input.ArrowRight,
	"f1":         input.F1,
	"f2":         input.F2,
	"f3":         input.F3,
	"f4":         input.F4,
	"f5":         input.F5,
	"f6":         input.F6,
	"f7":         input.F7,
	"f8":         input.F8,
	"f9":         input.F9,
	"f10":        input.F10,
	"f11":        input.F11,
	"f12":        input.F12,
}

var modifierKeys = map[string]input.Key{
	"shift":         input.ShiftLeft,
	"control":       input.ControlLeft,
	"ctrl":          input.ControlLeft,
	"controlormeta": input.ControlLeft,
	"alt":           input.AltLeft,
	"option":        input.AltLeft,
	"meta":          input.MetaLeft,
	"cmd":           input.MetaLeft,
	"command":       input.MetaLeft,
}

// chord is a key press with held modifiers, e.g. "Control+Shift+A".
type chord struct {
	mods []input.Key
	key  input.Key
}

func parseModifier(name string) (input.Key, error) {
	k, ok := modifierKeys[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown modifier %q", name)
	}
	return k, nil
}

func parseKey(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	if k, ok := modifierKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		if r < utf8.RuneSelf {
			return input.Key(r), nil
		}
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

func parseChord(spec string) (chord, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return chord{}, fmt.Errorf("empty key")
	}
	var parts []string
	if spec == "+" {
		parts = []string{"+"}
	} else if strings.HasSuffix(spec, "++") {
		parts = append(strings.Split(strings.TrimSuffix(spec, "++"), "+"), "+")
	} else {
		parts = strings.Split(spec, "+")
	}

	var c chord
	for _, m := range parts[:len(parts)-1] {
		k, err := parseModifier(m)
		if err != nil {
			return chord{}, err
		}
		c.mods = append(c.mods, k)
	}
	k, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return chord{}, err
	}
	c.key = k
	return c, nil
}

// press holds the chord's modifiers while typing its key.
func (c chord) press(kb *rod.Keyboard) error {
	return withModifiers(kb, c.mods, func() error {
		return kb.Type(c.key)
	})
}

func withModifiers(kb *rod.Keyboard, mods []input.Key, fn func() error) error {
	held := make([]input.Key, 0, len(mods))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = kb.Release(held[i])
		}
	}()
	for _, m := range mods {
		if err := kb.Press(m); err != nil {
			return err
		}
		held = append(held, m)
	}
	return fn()
}
