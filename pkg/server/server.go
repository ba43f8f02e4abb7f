package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/signals"
	"github.com/duskhaven-mud/duskhaven/pkg/store"
)

// Server owns the listeners, the session registry and the services the
// transports share. One Server is one game process.
type Server struct {
	live    *LiveConfig
	world   *World
	auth    *AuthService
	bus     *signals.Bus
	reg     *session.Registry
	metrics *Metrics
	audit   *AuditLog

	upgrader  websocket.Upgrader
	startTime time.Time

	mu          sync.Mutex
	listeners   []net.Listener
	httpSrv     *http.Server
	metricsSrv  *http.Server
	stopWatcher chan struct{}
}

// NewServer assembles a server over an open store.
func NewServer(live *LiveConfig, st *store.Store) (*Server, error) {
	bus := signals.NewBus()
	reg := session.NewRegistry()
	srv := &Server{
		live:        live,
		world:       NewWorld(st, live, bus),
		auth:        NewAuthService(st, live.Get().JWTSecret, live.Get().JWTExpiry),
		bus:         bus,
		reg:         reg,
		metrics:     NewMetrics(reg, time.Now()),
		startTime:   time.Now(),
		stopWatcher: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	cfg := live.Get()
	if cfg.AuditDatabase != "" {
		audit, err := OpenAuditLog(cfg.AuditDatabase, cfg.AuditRetention)
		if err != nil {
			return nil, err
		}
		audit.Subscribe(bus)
		srv.audit = audit
	}
	return srv, nil
}

// Registry returns the live session registry.
func (srv *Server) Registry() *session.Registry { return srv.reg }

// Bus returns the lifecycle signal bus.
func (srv *Server) Bus() *signals.Bus { return srv.bus }

// World returns the account/character roster.
func (srv *Server) World() *World { return srv.world }

// Start brings up every enabled listener and blocks until they all
// stop.
func (srv *Server) Start() error {
	cfg := srv.live.Get()

	if err := srv.live.Watch(srv.stopWatcher); err != nil {
		log.Printf("config watch disabled: %v", err)
	}
	go srv.backupLoop(srv.stopWatcher)
	go srv.idleLoop(srv.stopWatcher)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.TelnetPort))
	if err != nil {
		return fmt.Errorf("telnet listener: %w", err)
	}
	srv.trackListener(ln)
	log.Printf("Listening (telnet) on port %d", cfg.TelnetPort)
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.acceptLoop(ln, "telnet")
	}()

	if cfg.TelnetTLS {
		tlsRes, err := SetupTLS(cfg.TLSDomain, cfg.TLSCert, cfg.TLSKey, cfg.CertDir)
		if err != nil {
			return fmt.Errorf("telnet TLS setup: %w", err)
		}
		tln, err := tls.Listen("tcp", fmt.Sprintf(":%d", cfg.TelnetTLSPort), tlsRes.Config)
		if err != nil {
			return fmt.Errorf("telnet TLS listener: %w", err)
		}
		srv.trackListener(tln)
		log.Printf("Listening (telnet/tls) on port %d", cfg.TelnetTLSPort)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.acceptLoop(tln, "telnet/tls")
		}()
	}

	if cfg.SSHEnabled {
		hostKey, err := loadOrCreateHostKey(cfg.SSHHostKey)
		if err != nil {
			return err
		}
		sshCfg := sshServerConfig(hostKey)
		sln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.SSHPort))
		if err != nil {
			return fmt.Errorf("ssh listener: %w", err)
		}
		srv.trackListener(sln)
		log.Printf("Listening (ssh) on port %d", cfg.SSHPort)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				conn, err := sln.Accept()
				if err != nil {
					if errors.Is(err, net.ErrClosed) {
						return
					}
					log.Printf("ssh accept: %v", err)
					continue
				}
				go srv.handleSSHConn(conn, sshCfg)
			}
		}()
	}

	if cfg.WebEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.serveWeb(cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("web server: %w", err)
			}
		}()
	}

	if cfg.MetricsEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.serveMetrics(cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	default:
	}

	wg.Wait()
	return nil
}

func (srv *Server) trackListener(ln net.Listener) {
	srv.mu.Lock()
	srv.listeners = append(srv.listeners, ln)
	srv.mu.Unlock()
}

// acceptLoop accepts telnet connections until the listener is closed.
func (srv *Server) acceptLoop(ln net.Listener, proto string) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("%s accept: %v", proto, err)
			continue
		}
		go srv.handleTelnetConn(conn, proto)
	}
}

// serveWeb runs the HTTPS endpoint carrying the WebSocket transport and
// the token API.
func (srv *Server) serveWeb(cfg *Config) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.handleWebSocket)
	mux.HandleFunc("POST /api/v1/auth/login", srv.handleAuthLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", srv.handleAuthRefresh)
	mux.Handle("GET /health", srv.metrics.HealthHandler())
	mux.HandleFunc("GET /api/v1/admin/sessions", srv.requireAdmin(srv.handleAdminSessions))
	mux.HandleFunc("POST /api/v1/admin/kick", srv.requireAdmin(srv.handleAdminKick))
	mux.HandleFunc("POST /api/v1/admin/broadcast", srv.requireAdmin(srv.handleAdminBroadcast))
	mux.HandleFunc("GET /api/v1/admin/audit", srv.requireAdmin(srv.handleAdminAudit))
	mux.HandleFunc("POST /api/v1/admin/backup", srv.requireAdmin(srv.handleAdminBackup))
	mux.HandleFunc("GET /api/v1/admin/backups", srv.requireAdmin(srv.handleAdminBackups))

	tlsRes, err := SetupTLS(cfg.TLSDomain, cfg.TLSCert, cfg.TLSKey, cfg.CertDir)
	if err != nil {
		return fmt.Errorf("web TLS setup: %w", err)
	}
	httpSrv := &http.Server{
		Addr:      fmt.Sprintf("%s:%d", cfg.WebHost, cfg.WebPort),
		Handler:   mux,
		TLSConfig: tlsRes.Config,
	}
	srv.mu.Lock()
	srv.httpSrv = httpSrv
	srv.mu.Unlock()
	log.Printf("Listening (https/wss) on %s", httpSrv.Addr)
	return httpSrv.ListenAndServeTLS("", "")
}

// serveMetrics runs the plain-HTTP observability endpoint.
func (srv *Server) serveMetrics(cfg *Config) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", srv.metrics.Handler())
	mux.Handle("GET /healthz", srv.metrics.HealthHandler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: mux,
	}
	srv.mu.Lock()
	srv.metricsSrv = metricsSrv
	srv.mu.Unlock()
	log.Printf("Listening (metrics) on port %d", cfg.MetricsPort)
	return metricsSrv.ListenAndServe()
}

// Broadcast sends a notice to every live session.
func (srv *Server) Broadcast(text string) {
	srv.reg.AnnounceAll(text)
}

// Shutdown announces, disconnects everyone cleanly and closes the
// listeners and stores.
func (srv *Server) Shutdown(ctx context.Context) {
	log.Printf("Shutdown: %d sessions connected", srv.reg.Count(true))
	srv.Broadcast("Server going down. Goodbye!")
	srv.reg.DisconnectAll("Server shutdown.")

	close(srv.stopWatcher)

	srv.mu.Lock()
	listeners := srv.listeners
	httpSrv := srv.httpSrv
	metricsSrv := srv.metricsSrv
	srv.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	if httpSrv != nil {
		httpSrv.Shutdown(ctx)
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	if srv.audit != nil {
		srv.audit.Close()
	}
	if err := srv.world.Store().Close(); err != nil {
		log.Printf("closing store: %v", err)
	}
}
