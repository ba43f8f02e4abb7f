package telnet

import (
	"bytes"
	"testing"
)

func TestParserPlainLines(t *testing.T) {
	p := NewParser()
	evs := p.Feed([]byte("look\r\nsay hello\r\n"))
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Kind != EventLine || evs[0].Line != "look" {
		t.Errorf("first line = %+v", evs[0])
	}
	if evs[1].Line != "say hello" {
		t.Errorf("second line = %q", evs[1].Line)
	}
}

func TestParserLineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"bare lf", "a\nb\n", []string{"a", "b"}},
		{"cr nul", "a\r\x00b\r\x00", []string{"a", "b"}},
	}
	for _, tt := range tests {
		p := NewParser()
		evs := p.Feed([]byte(tt.input))
		if len(evs) != len(tt.want) {
			t.Errorf("%s: got %d events, want %d", tt.name, len(evs), len(tt.want))
			continue
		}
		for i, w := range tt.want {
			if evs[i].Line != w {
				t.Errorf("%s: line %d = %q, want %q", tt.name, i, evs[i].Line, w)
			}
		}
	}
}

func TestParserSplitAcrossReads(t *testing.T) {
	p := NewParser()
	if evs := p.Feed([]byte("hel")); len(evs) != 0 {
		t.Fatalf("partial line should buffer, got %d events", len(evs))
	}
	evs := p.Feed([]byte("lo\r\n"))
	if len(evs) != 1 || evs[0].Line != "hello" {
		t.Fatalf("expected hello, got %+v", evs)
	}
}

func TestParserCommand(t *testing.T) {
	p := NewParser()
	evs := p.Feed([]byte{IAC, WILL, TeloptTTYPE})
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Kind != EventCmd || evs[0].Cmd != WILL || evs[0].Opt != TeloptTTYPE {
		t.Errorf("unexpected command event: %+v", evs[0])
	}
}

func TestParserCommandInterleavedWithText(t *testing.T) {
	p := NewParser()
	input := []byte("lo")
	input = append(input, IAC, DO, TeloptMCCP2)
	input = append(input, []byte("ok\r\n")...)
	evs := p.Feed(input)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(evs), evs)
	}
	if evs[0].Kind != EventCmd || evs[0].Opt != TeloptMCCP2 {
		t.Errorf("expected MCCP DO command, got %+v", evs[0])
	}
	// IAC sequence must never leak into the text line
	if evs[1].Kind != EventLine || evs[1].Line != "look" {
		t.Errorf("expected clean line %q, got %+v", "look", evs[1])
	}
}

func TestParserSubnegotiation(t *testing.T) {
	p := NewParser()
	payload := append([]byte{TTYPEIs}, []byte("MUDLET")...)
	input := []byte{IAC, SB, TeloptTTYPE}
	input = append(input, payload...)
	input = append(input, IAC, SE)
	evs := p.Feed(input)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Kind != EventSubneg || evs[0].Opt != TeloptTTYPE {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if !bytes.Equal(evs[0].Payload, payload) {
		t.Errorf("payload = %v, want %v", evs[0].Payload, payload)
	}
}

func TestParserSubnegotiationEscapedIAC(t *testing.T) {
	p := NewParser()
	input := []byte{IAC, SB, TeloptNAWS, 0, 80, IAC, IAC, 0, 24, IAC, SE}
	evs := p.Feed(input)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	want := []byte{0, 80, IAC, 0, 24}
	if !bytes.Equal(evs[0].Payload, want) {
		t.Errorf("payload = %v, want %v", evs[0].Payload, want)
	}
	if w, h, ok := ParseNAWS(evs[0].Payload); !ok || w != 80 || h != (int(IAC)<<8|24) {
		t.Errorf("NAWS parse: w=%d h=%d ok=%v", w, h, ok)
	}
}

func TestParserEscapedIACInText(t *testing.T) {
	p := NewParser()
	input := []byte{'a', IAC, IAC, 'b', '\r', '\n'}
	evs := p.Feed(input)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Line != "a\xffb" {
		t.Errorf("line = %q", evs[0].Line)
	}
}

func TestEscapeIAC(t *testing.T) {
	in := []byte{1, IAC, 2, IAC}
	out := EscapeIAC(in)
	want := []byte{1, IAC, IAC, 2, IAC, IAC}
	if !bytes.Equal(out, want) {
		t.Errorf("EscapeIAC = %v, want %v", out, want)
	}
	// No allocation path when there is nothing to escape
	plain := []byte("hello")
	if got := EscapeIAC(plain); !bytes.Equal(got, plain) {
		t.Errorf("EscapeIAC(plain) = %v", got)
	}
}
