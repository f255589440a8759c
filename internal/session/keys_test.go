package session

import (
	"bytes"
	"errors"
	"testing"
)

func TestTranslateKeyLiteral(t *testing.T) {
	b, err := translateKey("hi")
	if err != nil {
		t.Fatalf("translateKey: %v", err)
	}
	if string(b) != "hi" {
		t.Fatalf("expected %q, got %q", "hi", b)
	}
}

func TestTranslateKeyNamed(t *testing.T) {
	cases := map[string]string{
		"Enter":     "\r",
		"<Enter>":   "\r",
		"Tab":       "\t",
		"Backspace": "\x7f",
		"Up":        "\x1b[A",
		"F1":        "\x1bOP",
		"PageDown":  "\x1b[6~",
	}
	for in, want := range cases {
		got, err := translateKey(in)
		if err != nil {
			t.Fatalf("translateKey(%q): %v", in, err)
		}
		if string(got) != want {
			t.Errorf("translateKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslateKeyControl(t *testing.T) {
	got, err := translateKey("C-c")
	if err != nil {
		t.Fatalf("translateKey: %v", err)
	}
	if len(got) != 1 || got[0] != 0x03 {
		t.Fatalf("expected control-C byte 0x03, got %v", got)
	}
}

func TestTranslateKeyBadNamedToken(t *testing.T) {
	_, err := translateKey("<NotAKey>")
	if !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey, got %v", err)
	}
}

func TestTranslateKeysSumsLengths(t *testing.T) {
	keys := []string{"hi", "Enter", "C-c"}
	want := len("hi") + len("\r") + 1

	got, err := translateKeys(keys)
	if err != nil {
		t.Fatalf("translateKeys: %v", err)
	}
	if len(got) != want {
		t.Fatalf("expected %d bytes, got %d (%v)", want, len(got), got)
	}
	if !bytes.Equal(got, []byte("hi\r\x03")) {
		t.Fatalf("unexpected translation: %q", got)
	}
}
