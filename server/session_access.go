package server

import (
	"errors"
	"os"
	"strings"
	"time"
)

// isAnonymousName reports whether the account name is one of the
// conventional anonymous logins.
func isAnonymousName(user string) bool {
	return strings.EqualFold(user, "anonymous") || strings.EqualFold(user, "ftp")
}

// handleHOST records the virtual host the client asks for (RFC 7151).
// Only valid before login.
func (s *session) handleHOST(arg string) {
	if s.isLoggedIn() {
		s.reply(503, "Cannot change host after login.")
		return
	}
	s.mu.Lock()
	s.host = arg
	s.mu.Unlock()
	s.reply(220, "Host accepted.")
}

func (s *session) handleUSER(arg string) {
	if arg == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	if s.isLoggedIn() {
		s.reply(530, "Already logged in.")
		return
	}

	s.mu.Lock()
	s.pendingUser = arg
	s.mu.Unlock()

	if isAnonymousName(arg) && s.server.maxAnonLogins > 0 &&
		s.server.stats.Snapshot().CurrentAnonLogins >= int64(s.server.maxAnonLogins) {
		s.reply(421, "Too many anonymous users, try again later.")
		return
	}

	s.reply(331, "User name okay, need password.")
}

func (s *session) handlePASS(arg string) {
	if s.isLoggedIn() {
		s.reply(503, "Already logged in.")
		return
	}

	s.mu.Lock()
	user := s.pendingUser
	s.mu.Unlock()
	if user == "" {
		s.reply(503, "Bad sequence of commands. Send USER first.")
		return
	}

	anonymous := isAnonymousName(user)
	snapshot := s.server.stats.Snapshot()
	if s.server.maxLogins > 0 && snapshot.CurrentLogins >= int64(s.server.maxLogins) {
		s.reply(421, "Too many users, try again later.")
		return
	}
	if anonymous && s.server.maxAnonLogins > 0 &&
		snapshot.CurrentAnonLogins >= int64(s.server.maxAnonLogins) {
		s.reply(421, "Too many anonymous users, try again later.")
		return
	}

	ctx, err := s.server.driver.Authenticate(user, arg)
	if err != nil {
		s.server.logger.Warn("authentication_failed",
			"session_id", s.id,
			"remote_ip", s.redactIP(s.remoteIP),
			"user", user,
			"reason", err.Error(),
		)
		if errors.Is(err, os.ErrPermission) {
			s.reply(530, "Login incorrect.")
		} else {
			s.reply(421, "Service not available.")
		}
		return
	}

	// The user record is optional; the driver alone decides whether the
	// login is valid. A configured user manager adds idle budgets and the
	// admin identity.
	var rec User
	if s.server.userManager != nil {
		if u, lookupErr := s.server.userManager.GetUserByName(user); lookupErr == nil {
			rec = u
		}
	}

	s.mu.Lock()
	s.fs = ctx
	s.loggedIn = true
	s.user = user
	s.pendingUser = ""
	s.anonymous = anonymous
	s.userRec = rec
	s.mu.Unlock()

	if rec != nil && rec.MaxIdleSeconds() > 0 {
		s.maxIdle.Store(int64(time.Duration(rec.MaxIdleSeconds()) * time.Second))
	}

	s.server.stats.recordLogin(anonymous)

	s.server.logger.Info("authentication_success",
		"session_id", s.id,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", user,
		"anonymous", anonymous,
	)

	if anonymous {
		s.reply(230, "Anonymous user logged in, proceed.")
		return
	}
	s.reply(230, "User logged in, proceed.")
}

func (s *session) handleACCT(_ string) {
	s.reply(202, "Command not implemented, superfluous at this site.")
}

// isAdmin reports whether the logged-in user is the user manager's admin.
func (s *session) isAdmin() bool {
	if s.server.userManager == nil {
		return false
	}
	admin := s.server.userManager.AdminName()
	return admin != "" && strings.EqualFold(s.currentUser(), admin)
}
