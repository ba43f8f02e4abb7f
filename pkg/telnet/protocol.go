// Package telnet implements the wire-level telnet protocol used by the
// game's TCP transports: IAC stream parsing, option negotiation state
// machines for TTYPE (terminal type / MTTS), MCCP2 (compression), MSSP
// (server status), NAWS (window size) and GMCP (structured out-of-band
// messages), plus output escaping.
//
// Each negotiation is a small explicit state machine. Subnegotiation is a
// multi-round asynchronous exchange, so without a formal state per option
// the server cannot associate an inbound reply with the request that
// prompted it. TTYPE is always ordered before MCCP: some clients misbehave
// if compression starts before terminal type is settled.
package telnet

// Telnet protocol constants (RFC 854 plus MUD extensions).
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	GA   byte = 249 // Go Ahead
	NOP  byte = 241
	SE   byte = 240 // Subnegotiation End

	// Options negotiated by this server
	TeloptTTYPE byte = 24  // Terminal type (RFC 1091 / MTTS)
	TeloptNAWS  byte = 31  // Window size (RFC 1073)
	TeloptMSSP  byte = 70  // MUD Server Status Protocol
	TeloptMCCP2 byte = 86  // MUD Client Compression Protocol v2
	TeloptGMCP  byte = 201 // Generic MUD Communication Protocol
)

// TTYPE subnegotiation verbs.
const (
	TTYPEIs   byte = 0
	TTYPESend byte = 1
)

// MSSP subnegotiation type bytes.
const (
	MSSPVar byte = 1 // Variable name follows
	MSSPVal byte = 2 // Variable value follows
)

// CmdName returns a readable name for a telnet command byte.
func CmdName(c byte) string {
	switch c {
	case IAC:
		return "IAC"
	case DONT:
		return "DONT"
	case DO:
		return "DO"
	case WONT:
		return "WONT"
	case WILL:
		return "WILL"
	case SB:
		return "SB"
	case SE:
		return "SE"
	case GA:
		return "GA"
	case NOP:
		return "NOP"
	default:
		return "?"
	}
}

// EscapeIAC doubles any literal IAC byte in payload data so it is not
// interpreted as a command by the client.
func EscapeIAC(data []byte) []byte {
	n := 0
	for _, b := range data {
		if b == IAC {
			n++
		}
	}
	if n == 0 {
		return data
	}
	out := make([]byte, 0, len(data)+n)
	for _, b := range data {
		out = append(out, b)
		if b == IAC {
			out = append(out, IAC)
		}
	}
	return out
}
