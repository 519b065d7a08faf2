package server

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

func (s *session) handleSYST(_ string) {
	s.reply(215, s.server.serverName)
}

func (s *session) handleSIZE(path string) {
	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.reply(550, "Could not get file size.")
		return
	}
	s.reply(213, fmt.Sprintf("%d", info.Size()))
}

func (s *session) handleMDTM(path string) {
	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.reply(550, "Could not get file modification time.")
		return
	}
	// RFC 3659: time values are always UTC, YYYYMMDDHHMMSS.
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
}

func (s *session) handleFEAT(_ string) {
	features := []string{
		"SIZE",
		"MDTM",
		"PASV",
		"EPSV",
		"EPRT",
		"UTF8",
		"TVFS",
		"MLST type*;size*;modify*;",
		"MLSD",
		"REST STREAM",
		"HASH SHA-1;SHA-256;SHA-512;MD5;CRC32",
		"MFMT",
		"HOST",
		"LANG EN",
	}
	if s.server.tlsConfig != nil {
		features = append(features, "AUTH TLS", "PBSZ", "PROT")
	}
	s.replyLines(211, "Features:", features, "End")
}

func (s *session) handleOPTS(arg string) {
	upper := strings.ToUpper(arg)
	if strings.HasPrefix(upper, "UTF8 ON") || upper == "UTF8" {
		s.reply(200, "Always in UTF8 mode.")
		return
	}
	if strings.HasPrefix(upper, "HASH") {
		parts := strings.Fields(upper)
		if len(parts) > 1 {
			switch parts[1] {
			case "SHA-1", "SHA-256", "SHA-512", "MD5", "CRC32":
				s.selectedHash = parts[1]
				s.reply(200, parts[1]+" selected.")
				return
			}
		}
		s.reply(200, s.selectedHash)
		return
	}
	s.reply(501, "Option not understood.")
}

func (s *session) handleLANG(arg string) {
	lang := strings.ToUpper(strings.TrimSpace(arg))
	if lang == "" || lang == "EN" || strings.HasPrefix(lang, "EN-") {
		s.reply(200, "Language set to English.")
		return
	}
	s.reply(504, "Language not supported.")
}

func (s *session) handleNOOP(_ string) {
	s.reply(200, "OK.")
}

func (s *session) handleMLSD(arg string) {
	entries, err := s.fs.ListDir(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.openDataConn()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "MLSD listing started.")

	for _, entry := range entries {
		writeMLEntry(conn, entry)
	}

	s.reply(226, "MLSD listing complete.")
}

func (s *session) handleMLST(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if err != nil {
		s.reply(550, "Could not get file info.")
		return
	}

	s.mu.Lock()
	fmt.Fprintf(s.writer, "250- Listing follows\r\n ")
	writeMLEntry(s.writer, info)
	fmt.Fprintf(s.writer, "250 End\r\n")
	s.writer.Flush()
	s.mu.Unlock()
}

func writeMLEntry(w io.Writer, info os.FileInfo) {
	t := "file"
	if info.IsDir() {
		t = "dir"
	}
	fmt.Fprintf(w, "type=%s;size=%d;modify=%s; %s\r\n",
		t, info.Size(), info.ModTime().UTC().Format("20060102150405"), info.Name())
}

func (s *session) handleSTAT(arg string) {
	if arg != "" {
		s.reply(502, "STAT with path not implemented. Use LIST instead.")
		return
	}

	var lines []string
	if s.isLoggedIn() {
		lines = append(lines, "Logged in as: "+s.currentUser())
	} else {
		lines = append(lines, "Not logged in")
	}
	lines = append(lines,
		fmt.Sprintf("TYPE: %s; STRUcture: File; transfer MODE: Stream", s.transferType),
		fmt.Sprintf("Session id: %s", s.id),
		fmt.Sprintf("Connected since: %s", s.connectedAt.UTC().Format(time.RFC3339)),
	)
	s.replyLines(211, "Status:", lines, "End of status")
}

func (s *session) handleHELP(arg string) {
	if arg != "" {
		s.reply(214, fmt.Sprintf("No help available for %s.", arg))
		return
	}
	lines := []string{
		"USER PASS QUIT ACCT HOST",
		"CWD CDUP PWD MKD XMKD RMD XRMD",
		"LIST NLST MLSD MLST",
		"RETR STOR APPE STOU DELE",
		"RNFR RNTO REST ABOR",
		"TYPE MODE STRU PORT PASV EPSV EPRT",
		"SIZE MDTM FEAT OPTS LANG",
		"AUTH PROT PBSZ",
		"SYST STAT HELP NOOP SITE",
		"HASH MFMT",
	}
	s.replyLines(214, "The following commands are supported:", lines, "End of help")
}

func (s *session) handleHASH(path string) {
	hash, err := s.fs.GetHash(path, s.selectedHash)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("%s %s %s", s.selectedHash, hash, path))
}

func (s *session) handleMFMT(arg string) {
	parts := strings.SplitN(arg, " ", 2)
	if len(parts) != 2 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	t, err := time.Parse("20060102150405", parts[0])
	if err != nil {
		s.reply(501, "Invalid time format.")
		return
	}

	if err := s.fs.SetTime(parts[1], t); err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("Modify=%s; %s", parts[0], parts[1]))
}
