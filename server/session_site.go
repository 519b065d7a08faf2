package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// handleSITE routes server-specific commands. WHO and KICK form the
// protocol-level administrative surface and require the user manager's
// admin account.
func (s *session) handleSITE(arg string) {
	if arg == "" {
		s.reply(501, "SITE command requires parameters.")
		return
	}

	parts := strings.Fields(arg)
	sub := strings.ToUpper(parts[0])

	switch sub {
	case "HELP":
		s.reply(214, "Available SITE commands: HELP, CHMOD, WHO, KICK, STATS")

	case "CHMOD":
		s.handleSiteChmod(parts)

	case "WHO":
		if !s.isAdmin() {
			s.reply(530, "SITE WHO requires administrator privileges.")
			return
		}
		s.handleSiteWho()

	case "KICK":
		if !s.isAdmin() {
			s.reply(530, "SITE KICK requires administrator privileges.")
			return
		}
		if len(parts) < 2 {
			s.reply(501, "Syntax: SITE KICK <session-id>")
			return
		}
		if !s.server.Kick(parts[1]) {
			s.reply(550, "No such session.")
			return
		}
		s.reply(200, "Session kicked.")

	case "STATS":
		if !s.isAdmin() {
			s.reply(530, "SITE STATS requires administrator privileges.")
			return
		}
		s.handleSiteStats()

	default:
		s.reply(502, "SITE command not implemented.")
	}
}

func (s *session) handleSiteChmod(parts []string) {
	// Syntax: SITE CHMOD <mode> <file>
	if len(parts) < 3 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	mode, err := strconv.ParseUint(parts[1], 8, 32)
	if err != nil || mode > 0777 {
		s.reply(501, "Invalid mode.")
		return
	}
	path := strings.Join(parts[2:], " ")

	if s.userRec != nil && !s.userRec.WriteAllowed() {
		s.reply(550, "Permission denied.")
		return
	}
	if err := s.fs.Chmod(path, os.FileMode(mode)); err != nil {
		s.replyError(err)
		return
	}
	s.reply(200, "SITE CHMOD command successful.")
}

func (s *session) handleSiteWho() {
	sessions := s.server.Sessions()
	lines := make([]string, 0, len(sessions))
	for _, info := range sessions {
		user := info.User
		if user == "" {
			user = "-"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s idle=%s",
			info.ID, user, info.RemoteAddr,
			time.Since(info.LastAccess).Truncate(time.Second)))
	}
	s.replyLines(200, fmt.Sprintf("%d connection(s):", len(sessions)), lines, "End")
}

func (s *session) handleSiteStats() {
	st := s.server.Stats()
	lines := []string{
		fmt.Sprintf("Started: %s", st.StartTime.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Connections: current=%d total=%d", st.CurrentConnections, st.TotalConnections),
		fmt.Sprintf("Logins: current=%d total=%d", st.CurrentLogins, st.TotalLogins),
		fmt.Sprintf("Anonymous: current=%d total=%d", st.CurrentAnonLogins, st.TotalAnonLogins),
		fmt.Sprintf("Uploads: %d (%d bytes)", st.TotalUploads, st.UploadBytes),
		fmt.Sprintf("Downloads: %d (%d bytes)", st.TotalDownloads, st.DownloadBytes),
		fmt.Sprintf("Deletes: %d", st.TotalDeletes),
	}
	s.replyLines(200, "Server statistics:", lines, "End")
}
