package server

import (
	"log"
	"time"
)

// idleSweepEvery is how often connected sessions are checked against the
// configured idle timeout.
const idleSweepEvery = time.Minute

// sweepIdle disconnects every session idle past the configured timeout.
// An idle_timeout of zero disables the sweep. Clients that want to stay
// connected without counting commands can send the "idle" keepalive.
func (srv *Server) sweepIdle() {
	limit := time.Duration(srv.live.Get().IdleTimeout) * time.Second
	if limit <= 0 {
		return
	}
	for _, s := range srv.reg.All() {
		if idle := s.IdleTime(); idle > limit {
			log.Printf("[%d] Idle for %s, disconnecting", s.ID(), idle.Round(time.Second))
			s.Disconnect("Idle timeout. Goodbye!")
		}
	}
}

// idleLoop runs the idle sweep until stop is closed. The timeout is read
// from the live config each pass, so a hot reload takes effect at the
// next tick.
func (srv *Server) idleLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(idleSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			srv.sweepIdle()
		case <-stop:
			return
		}
	}
}
