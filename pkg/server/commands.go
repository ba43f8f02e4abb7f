package server

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/store"
)

// Execute is the command executor injected into every session. Input
// from a session with no account goes to the login screen; everything
// else is dispatched here.
func (srv *Server) Execute(s *session.Session, text string, meta map[string]any) {
	if !s.LoggedIn() {
		srv.handleLoginCommand(s, text)
		return
	}
	srv.metrics.Commands.Inc()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	cmd, args := text, ""
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmd, args = text[:i], strings.TrimSpace(text[i+1:])
	}

	switch strings.ToLower(cmd) {
	case "quit":
		s.Disconnect("Goodbye!")
	case "who":
		srv.showWho(s)
	case "look", "l":
		srv.cmdLook(s)
	case "say", "'":
		srv.cmdSay(s, args)
	case "puppet", "ic":
		srv.cmdPuppet(s, args)
	case "ooc", "unpuppet":
		srv.cmdUnpuppet(s)
	case "characters", "chars":
		srv.cmdCharacters(s)
	case "charcreate":
		srv.cmdCharCreate(s, args)
	case "chardelete":
		srv.cmdCharDelete(s, args)
	case "sessions":
		srv.cmdSessions(s)
	case "password":
		srv.cmdPassword(s, args)
	case "help":
		s.Msg("Commands: look, say, who, puppet <name>, ooc, characters, charcreate <name>, chardelete <name>, sessions, password <old> <new>, quit")
	default:
		s.Msg(fmt.Sprintf("Unknown command: %s. Try 'help'.", cmd))
	}
}

func (srv *Server) cmdLook(s *session.Session) {
	if p := s.Puppet(); p != nil {
		s.Msg(fmt.Sprintf("You are %s, adrift in the dusk. Nothing else is here yet.", p.Name))
		return
	}
	s.Msg("You are out of character. Use 'puppet <name>' to enter the world.")
}

// cmdSay echoes to every session of the puppeting account, which is how
// shared-puppet mode keeps all clients in sync.
func (srv *Server) cmdSay(s *session.Session, args string) {
	p := s.Puppet()
	if p == nil {
		s.Msg("You must be puppeting a character to speak.")
		return
	}
	if args == "" {
		s.Msg("Say what?")
		return
	}
	p.Msg(fmt.Sprintf("%s says, \"%s\"", p.Name, args), nil)
}

func (srv *Server) cmdPuppet(s *session.Session, args string) {
	if args == "" {
		s.Msg("Usage: puppet <character>")
		return
	}
	obj, err := srv.world.ObjectByName(args)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Msg(fmt.Sprintf("There is no character named %q.", args))
			return
		}
		log.Printf("[%d] puppet lookup %q: %v", s.ID(), args, err)
		s.Msg("Something went wrong finding that character.")
		return
	}
	if obj.Sessions.Add(s, false, false) {
		s.Msg(fmt.Sprintf("You become %s.", obj.Name))
	}
}

func (srv *Server) cmdUnpuppet(s *session.Session) {
	p := s.Puppet()
	if p == nil {
		s.Msg("You are not puppeting anything.")
		return
	}
	if p.Sessions.Remove(s, false, "unpuppet") {
		s.Msg(fmt.Sprintf("You stop being %s.", p.Name))
	}
}

func (srv *Server) cmdCharacters(s *session.Session) {
	chars, err := srv.world.CharactersFor(s.Account())
	if err != nil {
		log.Printf("[%d] list characters: %v", s.ID(), err)
		s.Msg("Could not list your characters.")
		return
	}
	if len(chars) == 0 {
		s.Msg("You have no characters. Use 'charcreate <name>' to make one.")
		return
	}
	var lines []string
	lines = append(lines, "Your characters:")
	for _, c := range chars {
		marker := ""
		if s.Puppet() == c {
			marker = " (puppeting)"
		} else if c.Sessions.Count() > 0 {
			marker = " (in use)"
		}
		lines = append(lines, "  "+c.Name+marker)
	}
	s.Msg(strings.Join(lines, "\n"))
}

func (srv *Server) cmdCharCreate(s *session.Session, args string) {
	if args == "" {
		s.Msg("Usage: charcreate <name>")
		return
	}
	acct := s.Account()
	rec, err := srv.world.Store().CreateCharacter(acct.ID, args)
	if err != nil {
		if errors.Is(err, store.ErrNameTaken) {
			s.Msg("That character name is already taken.")
			return
		}
		log.Printf("[%d] charcreate %q: %v", s.ID(), args, err)
		s.Msg("Character creation failed.")
		return
	}
	s.Msg(fmt.Sprintf("Character %s created. Use 'puppet %s' to play.", rec.Name, rec.Name))
}

func (srv *Server) cmdCharDelete(s *session.Session, args string) {
	if args == "" {
		s.Msg("Usage: chardelete <name>")
		return
	}
	rec, err := srv.world.Store().GetCharacterByName(args)
	if err != nil {
		s.Msg(fmt.Sprintf("There is no character named %q.", args))
		return
	}
	if rec.AccountID != s.Account().ID {
		s.Msg("That character is not yours.")
		return
	}
	if obj, err := srv.world.ObjectByID(rec.ID); err == nil && obj.Sessions.Count() > 0 {
		s.Msg("That character is currently being puppeted.")
		return
	}
	if err := srv.world.Store().DeleteCharacter(rec.ID); err != nil {
		log.Printf("[%d] chardelete %q: %v", s.ID(), args, err)
		s.Msg("Character deletion failed.")
		return
	}
	s.Msg(fmt.Sprintf("Character %s deleted.", rec.Name))
}

// cmdSessions lists this account's own connections.
func (srv *Server) cmdSessions(s *session.Session) {
	var lines []string
	lines = append(lines, "Your sessions:")
	for _, other := range s.Account().Sessions.All() {
		marker := ""
		if other == s {
			marker = " (this one)"
		}
		char := "-"
		if p := other.Puppet(); p != nil {
			char = p.Name
		}
		lines = append(lines, fmt.Sprintf("  #%d %s from %s as %s%s",
			other.ID(), other.Protocol(), other.Address(), char, marker))
	}
	s.Msg(strings.Join(lines, "\n"))
}

func (srv *Server) cmdPassword(s *session.Session, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		s.Msg("Usage: password <old> <new>")
		return
	}
	acct := s.Account()
	if _, err := srv.auth.Authenticate(acct.Name, parts[0]); err != nil {
		s.Msg("Old password is incorrect.")
		return
	}
	if err := srv.world.Store().SetPassword(acct.ID, parts[1]); err != nil {
		log.Printf("[%d] password change for %q: %v", s.ID(), acct.Name, err)
		s.Msg("Password change failed.")
		return
	}
	s.Msg("Password changed.")
}
