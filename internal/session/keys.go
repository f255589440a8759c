package session

import (
	"fmt"
	"strings"
)

// namedKeys maps the recognized bracketed key names to the byte
// sequences a conforming terminal emits for them: control/arrow keys,
// function keys, and Home/End/PageUp/PageDown.
var namedKeys = map[string]string{
	"Enter":     "\r",
	"Return":    "\r",
	"Tab":       "\t",
	"Backspace": "\x7f",
	"Escape":    "\x1b",
	"Space":     " ",
	"Up":        "\x1b[A",
	"Down":      "\x1b[B",
	"Right":     "\x1b[C",
	"Left":      "\x1b[D",
	"Home":      "\x1b[H",
	"End":       "\x1b[F",
	"PageUp":    "\x1b[5~",
	"PageDown":  "\x1b[6~",
	"F1":        "\x1bOP",
	"F2":        "\x1bOQ",
	"F3":        "\x1bOR",
	"F4":        "\x1bOS",
	"F5":        "\x1b[15~",
	"F6":        "\x1b[17~",
	"F7":        "\x1b[18~",
	"F8":        "\x1b[19~",
	"F9":        "\x1b[20~",
	"F10":       "\x1b[21~",
	"F11":       "\x1b[23~",
	"F12":       "\x1b[24~",
}

// translateKey turns one sendKeys element into the bytes to write to the
// PTY master: a literal string is sent verbatim (UTF-8); a bracketed or
// bare recognized token becomes its escape sequence; "C-<ch>" becomes
// the control byte ch&0x1f.
func translateKey(k string) ([]byte, error) {
	name := strings.TrimPrefix(strings.TrimSuffix(k, ">"), "<")

	if seq, ok := namedKeys[name]; ok {
		return []byte(seq), nil
	}

	if strings.HasPrefix(name, "C-") && len(name) == 3 {
		ch := name[2]
		return []byte{ch & 0x1f}, nil
	}

	// Anything wrapped in angle brackets that didn't match a known name
	// is a bad key; a bare literal string (no brackets) is always legal.
	if strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">") {
		return nil, fmt.Errorf("%w: %q", ErrBadKey, k)
	}

	return []byte(k), nil
}

// translateKeys concatenates the translation of each element, in order,
// so the caller writes exactly sum(len(translate(k))) bytes to the
// master.
func translateKeys(keys []string) ([]byte, error) {
	var out []byte
	for _, k := range keys {
		b, err := translateKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
