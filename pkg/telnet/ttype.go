package telnet

import (
	"strconv"
	"strings"
)

// TTYPEState tracks progress of the terminal-type negotiation.
// The exchange is three rounds of IAC SB TTYPE SEND, answered by the
// client with IAC SB TTYPE IS <payload>: first the client name, then the
// terminal type, then an "MTTS <bitmask>" capability report.
type TTYPEState int

const (
	TTYPEInit TTYPEState = iota
	TTYPEAwaitName
	TTYPEAwaitTerm
	TTYPEAwaitMTTS
	TTYPEDone
)

// MTTS capability bits, decoded in descending order.
var mttsBits = []struct {
	bit  int
	name string
}{
	{512, "MNES"},
	{256, "TRUECOLOR"},
	{128, "PROXY"},
	{64, "SCREEN_READER"},
	{32, "OSC_COLOR_PALETTE"},
	{16, "MOUSE_TRACKING"},
	{8, "256_COLORS"},
	{4, "UTF-8"},
	{2, "VT100"},
	{1, "ANSI"},
}

// mttsFallback maps well-known terminal/client name fragments to a
// capability bitmask, for clients that answer TTYPE but never report
// MTTS. This table is a minimum compatibility baseline; a name that
// matches nothing marks the session "capabilities unknown" rather than
// guessing.
// Checked in order; more specific fragments come first.
var mttsFallback = []struct {
	frag string
	mask int
}{
	{"xterm-256color", 1 | 2 | 8},
	{"xterm", 1 | 2},
	{"mudlet", 1 | 4 | 8},
	{"tintin++", 1},
	{"mushclient", 1 | 8},
	{"cmud", 1 | 8},
	{"zmud", 1},
	{"vt100", 1 | 2},
	{"ansi", 1},
	{"dumb", 0},
}

// TTYPE is the terminal-type negotiation state machine for one
// connection. Results accumulate in Flags, which the transport stores
// into the session's protocol-flags map under the "TTYPE" key.
type TTYPE struct {
	State TTYPEState
	Flags map[string]any

	lastReply string
}

// NewTTYPE returns a negotiator with no flags set and init_done false.
func NewTTYPE() *TTYPE {
	return &TTYPE{Flags: map[string]any{"init_done": false}}
}

// Offer returns the bytes that open the negotiation: IAC DO TTYPE.
func (t *TTYPE) Offer() []byte {
	return []byte{IAC, DO, TeloptTTYPE}
}

// request builds IAC SB TTYPE SEND IAC SE.
func (t *TTYPE) request() []byte {
	return []byte{IAC, SB, TeloptTTYPE, TTYPESend, IAC, SE}
}

// HandleWill processes the client's IAC WILL TTYPE and returns the first
// SEND request.
func (t *TTYPE) HandleWill() []byte {
	if t.State != TTYPEInit {
		return nil
	}
	t.State = TTYPEAwaitName
	return t.request()
}

// HandleWont marks the negotiation finished with no capabilities: the
// client does not support TTYPE.
func (t *TTYPE) HandleWont() {
	t.finish()
}

// Timeout is called when the negotiation round-trip never completed.
// The feature is treated as unsupported and no further requests are sent.
func (t *TTYPE) Timeout() {
	if t.State != TTYPEDone {
		t.finish()
	}
}

// Done reports whether the negotiation reached a terminal state.
func (t *TTYPE) Done() bool {
	return t.State == TTYPEDone
}

// HandleSub processes one IAC SB TTYPE IS <payload> IAC SE reply and
// returns the next SEND request, or nil when the exchange is over.
// Malformed payloads are tolerated; they simply end the negotiation.
func (t *TTYPE) HandleSub(payload []byte) []byte {
	if len(payload) == 0 || payload[0] != TTYPEIs {
		return nil
	}
	reply := strings.TrimSpace(string(payload[1:]))

	// A client that repeats the same answer has stopped cycling; settle
	// with whatever we have.
	if reply != "" && reply == t.lastReply && t.State != TTYPEAwaitMTTS {
		t.settleWithoutMTTS()
		return nil
	}
	t.lastReply = reply

	switch t.State {
	case TTYPEAwaitName:
		t.Flags["CLIENTNAME"] = strings.ToUpper(reply)
		t.State = TTYPEAwaitTerm
		return t.request()

	case TTYPEAwaitTerm:
		t.Flags["TERM"] = strings.ToUpper(reply)
		t.State = TTYPEAwaitMTTS
		return t.request()

	case TTYPEAwaitMTTS:
		upper := strings.ToUpper(reply)
		if rest, ok := strings.CutPrefix(upper, "MTTS "); ok {
			if mask, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				t.applyMask(mask)
				t.finish()
				return nil
			}
		}
		// Non-conforming third reply: fall back to the name table.
		t.settleWithoutMTTS()
		return nil
	}
	return nil
}

// settleWithoutMTTS resolves capabilities from the terminal/client name
// when the client never delivered an MTTS bitmask.
func (t *TTYPE) settleWithoutMTTS() {
	name := ""
	if s, ok := t.Flags["TERM"].(string); ok && s != "" {
		name = s
	} else if s, ok := t.Flags["CLIENTNAME"].(string); ok {
		name = s
	}
	lower := strings.ToLower(name)
	for _, fb := range mttsFallback {
		if strings.Contains(lower, fb.frag) {
			t.applyMask(fb.mask)
			t.finish()
			return
		}
	}
	t.Flags["CAPABILITIES_UNKNOWN"] = true
	t.applyMask(0)
	t.finish()
}

// applyMask decodes an MTTS bitmask into named boolean capabilities,
// consuming bit values in descending order.
func (t *TTYPE) applyMask(mask int) {
	t.Flags["MTTS"] = mask
	for _, mb := range mttsBits {
		if mask >= mb.bit {
			t.Flags[mb.name] = true
			mask -= mb.bit
		} else {
			t.Flags[mb.name] = false
		}
	}
}

func (t *TTYPE) finish() {
	t.State = TTYPEDone
	t.Flags["init_done"] = true
}
