package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duskhaven-mud/duskhaven/pkg/server"
	"github.com/duskhaven-mud/duskhaven/pkg/store"
)

// envDefault returns the environment variable value if set, otherwise
// the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("DUSK_CONF", ""), "Path to YAML config file (env: DUSK_CONF)")
	storePath := flag.String("store", envDefault("DUSK_STORE", ""), "Path to account database, overrides config (env: DUSK_STORE)")
	telnetPort := flag.Int("port", 0, "Telnet port, overrides config (env: DUSK_PORT)")
	genSecret := flag.Bool("gen-jwt-secret", false, "Print a fresh jwt_secret value and exit")
	makeAdmin := flag.String("make-admin", "", "Grant the admin bit to the named account and exit")
	flag.Parse()

	if *genSecret {
		os.Stdout.WriteString(server.GenerateJWTSecret() + "\n")
		return
	}

	cfg := server.DefaultConfig()
	if *confFile != "" {
		loaded, err := server.LoadConfig(*confFile)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *telnetPort != 0 {
		cfg.TelnetPort = *telnetPort
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	log.Printf("Store: %d accounts in %s", st.AccountCount(), st.Path())

	if *makeAdmin != "" {
		acct, err := st.GetAccountByName(*makeAdmin)
		if err != nil {
			log.Fatalf("no account named %q", *makeAdmin)
		}
		if err := st.SetAdmin(acct.ID, true); err != nil {
			log.Fatalf("setting admin bit: %v", err)
		}
		log.Printf("Account %s(#%d) is now an admin", acct.Name, acct.ID)
		st.Close()
		return
	}

	live := server.NewLiveConfig(cfg, *confFile)
	srv, err := server.NewServer(live, st)
	if err != nil {
		log.Fatalf("building server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Printf("Starting %s", cfg.MudName)
	if err := srv.Start(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
