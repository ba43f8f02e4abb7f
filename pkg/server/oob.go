package server

import (
	"log"
	"time"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
)

// oobSender is the outbound half of the out-of-band channel. Both the
// WebSocket transport (OOB frames) and the telnet transport (GMCP
// subnegotiations) implement it.
type oobSender interface {
	WriteOOB(instruction string, args ...any)
}

// dispatchOOB executes one inbound out-of-band instruction, whatever
// wire format carried it.
func dispatchOOB(s *session.Session, out oobSender, instruction string, args []any) {
	switch instruction {
	case "text":
		// Command input carried inside an OOB envelope.
		for _, a := range args {
			if line, ok := a.(string); ok {
				s.DataIn(line, nil)
			}
		}
	case "ping":
		out.WriteOOB("pong", time.Now().Unix())
	case "get_flags":
		out.WriteOOB("flags", s.ProtocolFlags())
	default:
		log.Printf("[%d] unknown OOB instruction %q dropped", s.ID(), instruction)
	}
}
