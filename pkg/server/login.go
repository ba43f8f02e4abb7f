package server

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/signals"
	"github.com/duskhaven-mud/duskhaven/pkg/store"
)

const flagLoginRetries = "login_retries"

// ParseConnect parses a login-screen command into (command, user,
// password). Handles: "connect name password", "create name password"
// and quoted names with spaces.
func ParseConnect(msg string) (command, user, password string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", "", ""
	}

	parts := strings.SplitN(msg, " ", 2)
	command = strings.ToLower(parts[0])
	if len(parts) < 2 {
		return command, "", ""
	}

	rest := strings.TrimSpace(parts[1])
	if rest == "" {
		return command, "", ""
	}

	// Quoted names may contain spaces.
	if rest[0] == '"' {
		end := strings.Index(rest[1:], "\"")
		if end >= 0 {
			user = rest[1 : end+1]
			password = strings.TrimSpace(rest[end+2:])
			return
		}
	}

	parts = strings.SplitN(rest, " ", 2)
	user = parts[0]
	if len(parts) > 1 {
		password = strings.TrimSpace(parts[1])
	}
	return
}

// handleLoginCommand processes one line from a not-yet-authenticated
// session.
func (srv *Server) handleLoginCommand(s *session.Session, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	upper := strings.ToUpper(input)
	if upper == "QUIT" {
		s.Disconnect("Goodbye!")
		return
	}
	if upper == "WHO" {
		srv.showWho(s)
		return
	}

	command, user, password := ParseConnect(input)
	switch {
	case strings.HasPrefix(command, "co"):
		srv.handleConnect(s, user, password)
	case strings.HasPrefix(command, "cr"):
		srv.handleCreate(s, user, password)
	default:
		s.Msg(fmt.Sprintf("Welcome to %s. Commands: connect <name> <password>, create <name> <password>, WHO, QUIT", srv.live.Get().MudName))
	}
}

// handleConnect authenticates and links the session to its account. A
// bad name and a bad password produce the same message; failures count
// against a per-connection retry budget.
func (srv *Server) handleConnect(s *session.Session, user, password string) {
	if user == "" {
		s.Msg("Usage: connect <name> <password>")
		return
	}

	acctRec, err := srv.auth.Authenticate(user, password)
	if err != nil {
		if errors.Is(err, ErrBanned) {
			s.Disconnect("This account has been banned.")
			return
		}
		srv.bus.Send(signals.AccountPostLoginFail, nil,
			signals.Kwargs("session", s, "name", user, "addr", s.Address()))
		srv.metrics.LoginFailures.Inc()
		s.Msg("Either that account does not exist, or has a different password.")
		srv.spendRetry(s)
		return
	}

	acct := srv.world.Account(acctRec)
	if !acct.Sessions.Add(s, false, false) {
		return
	}
	srv.metrics.Logins.Inc()
	log.Printf("[%d] Account %s(#%d) connected from %s", s.ID(), acct.Name, acct.ID, s.Address())
	s.Msg(fmt.Sprintf("Welcome back, %s!", acct.Name))
	srv.world.AutoPuppet(s, acct)
}

// handleCreate creates a new account and logs it in.
func (srv *Server) handleCreate(s *session.Session, user, password string) {
	if user == "" || password == "" {
		s.Msg("Usage: create <name> <password>")
		return
	}
	if len(user) < 2 {
		s.Msg("That name is too short.")
		return
	}
	for _, ch := range user {
		if ch == '"' || ch == ';' || ch == '=' {
			s.Msg("That name contains illegal characters.")
			return
		}
	}

	acctRec, err := srv.world.Store().CreateAccount(user, password)
	if err != nil {
		if errors.Is(err, store.ErrNameTaken) {
			s.Msg("That name is already taken.")
			return
		}
		log.Printf("[%d] create account %q: %v", s.ID(), user, err)
		s.Msg("Account creation failed. Please try again.")
		return
	}
	srv.bus.Send(signals.AccountPostCreate, acctRec,
		signals.Kwargs("session", s, "name", acctRec.Name))
	log.Printf("[%d] New account %s(#%d) created from %s", s.ID(), acctRec.Name, acctRec.ID, s.Address())

	acct := srv.world.Account(acctRec)
	if acct.Sessions.Add(s, false, false) {
		srv.metrics.Logins.Inc()
		s.Msg(fmt.Sprintf("Welcome to %s, %s! Your account has been created.", srv.live.Get().MudName, acct.Name))
		s.Msg("Use 'charcreate <name>' to create your first character.")
	}
}

// spendRetry burns one login attempt and disconnects when none remain.
func (srv *Server) spendRetry(s *session.Session) {
	left := srv.live.Get().MaxLoginRetries
	if v, ok := s.ProtocolFlag(flagLoginRetries); ok {
		left = v.(int)
	}
	left--
	s.SetProtocolFlag(flagLoginRetries, left)
	if left <= 0 {
		s.Disconnect("Too many failed attempts. Disconnecting.")
	}
}

// showWho lists connected accounts; usable before login.
func (srv *Server) showWho(s *session.Session) {
	var lines []string
	lines = append(lines, fmt.Sprintf("%-20s %-20s %-10s %s", "Account", "Character", "Idle", "Protocol"))
	seen := 0
	for _, other := range srv.reg.All() {
		a := other.Account()
		if a == nil {
			continue
		}
		seen++
		char := "-"
		if p := other.Puppet(); p != nil {
			char = p.Name
		}
		lines = append(lines, fmt.Sprintf("%-20s %-20s %-10s %s",
			a.Name, char, other.IdleTime().Truncate(1e9).String(), other.Protocol()))
	}
	lines = append(lines, fmt.Sprintf("%d account(s) connected.", seen))
	s.Msg(strings.Join(lines, "\n"))
}

// WelcomeText is the default welcome screen shown to new connections.
const WelcomeText = `
   ____            _    _
  |  _ \ _   _ ___| | _| |__   __ ___   _____ _ __
  | | | | | | / __| |/ / '_ \ / _` + "`" + ` \ \ / / _ \ '_ \
  | |_| | |_| \__ \   <| | | | (_| |\ V /  __/ | | |
  |____/ \__,_|___/_|\_\_| |_|\__,_| \_/ \___|_| |_|

"connect <name> <password>" to connect to your existing account.
"create <name> <password>" to create a new account.
"WHO" to see who is connected.
"QUIT" to disconnect.

`
