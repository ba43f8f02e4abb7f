package telnet

// EventKind classifies what the stream parser produced.
type EventKind int

const (
	EventLine   EventKind = iota // One complete line of user text
	EventCmd                     // 3-byte command: IAC <cmd> <opt>
	EventSubneg                  // Subnegotiation: IAC SB <opt> ... IAC SE
)

// Event is one unit parsed out of the inbound telnet stream. Command and
// subnegotiation events are consumed by the negotiation state machines and
// never forwarded as text.
type Event struct {
	Kind    EventKind
	Line    string // EventLine
	Cmd     byte   // EventCmd: WILL/WONT/DO/DONT
	Opt     byte   // EventCmd, EventSubneg
	Payload []byte // EventSubneg: bytes between SB <opt> and IAC SE
}

// parser states
const (
	stData = iota
	stCR
	stIAC
	stCmd
	stSBOpt
	stSB
	stSBIAC
)

// Parser is a stateful telnet stream parser. Feed it raw bytes in any
// chunking and it yields complete lines, commands and subnegotiations.
// It separates IAC sequences from line-mode text, handles IAC IAC
// escaping, CR LF / CR NUL line endings and subnegotiations that span
// reads. Not safe for concurrent use; each connection owns one.
type Parser struct {
	state   int
	cmd     byte
	sbOpt   byte
	sbBuf   []byte
	lineBuf []byte
}

// NewParser returns a parser in line-data state.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes a chunk of raw bytes and returns the events completed by
// it. Partial lines and partial IAC sequences are buffered until the next
// call.
func (p *Parser) Feed(data []byte) []Event {
	var events []Event
	for _, b := range data {
		switch p.state {
		case stData:
			switch b {
			case IAC:
				p.state = stIAC
			case '\r':
				p.state = stCR
			case '\n':
				events = append(events, p.finishLine())
			default:
				p.lineBuf = append(p.lineBuf, b)
			}

		case stCR:
			// CR LF and CR NUL both terminate a line; a bare CR followed
			// by anything else terminates the line and re-processes the byte.
			p.state = stData
			switch b {
			case '\n', 0:
				events = append(events, p.finishLine())
			default:
				events = append(events, p.finishLine())
				events = append(events, p.Feed([]byte{b})...)
			}

		case stIAC:
			switch b {
			case IAC:
				// Escaped literal 255
				p.lineBuf = append(p.lineBuf, IAC)
				p.state = stData
			case SB:
				p.state = stSBOpt
			case WILL, WONT, DO, DONT:
				p.cmd = b
				p.state = stCmd
			default:
				// NOP, GA, or anything else without an option byte
				p.state = stData
			}

		case stCmd:
			events = append(events, Event{Kind: EventCmd, Cmd: p.cmd, Opt: b})
			p.state = stData

		case stSBOpt:
			p.sbOpt = b
			p.sbBuf = p.sbBuf[:0]
			p.state = stSB

		case stSB:
			if b == IAC {
				p.state = stSBIAC
			} else {
				p.sbBuf = append(p.sbBuf, b)
			}

		case stSBIAC:
			switch b {
			case IAC:
				// Escaped 255 inside subnegotiation payload
				p.sbBuf = append(p.sbBuf, IAC)
				p.state = stSB
			case SE:
				payload := make([]byte, len(p.sbBuf))
				copy(payload, p.sbBuf)
				events = append(events, Event{Kind: EventSubneg, Opt: p.sbOpt, Payload: payload})
				p.state = stData
			default:
				// Malformed subnegotiation terminator; drop it and resync.
				p.state = stData
			}
		}
	}
	return events
}

func (p *Parser) finishLine() Event {
	line := string(p.lineBuf)
	p.lineBuf = p.lineBuf[:0]
	return Event{Kind: EventLine, Line: line}
}
