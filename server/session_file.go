package server

import (
	"fmt"
)

func (s *session) handlePWD(_ string) {
	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q is the current directory.", cwd))
}

func (s *session) handleCWD(path string) {
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleCDUP(_ string) {
	s.handleCWD("..")
}

func (s *session) handleLIST(arg string) {
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

	s.reply(150, "Here comes the directory listing.")

	for _, entry := range entries {
		// Unix-style listing line; simplified but parseable by common clients.
		fmt.Fprintf(conn, "%s 1 owner group %12d %s %s\r\n",
			entry.Mode().String(), entry.Size(),
			entry.ModTime().Format("Jan 02 15:04"), entry.Name())
	}

	s.reply(226, "Directory send OK.")
}

func (s *session) handleNLST(arg string) {
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

	s.reply(150, "Here comes the file list.")

	for _, entry := range entries {
		fmt.Fprintf(conn, "%s\r\n", entry.Name())
	}

	s.reply(226, "Transfer complete.")
}

func (s *session) handleMKD(path string) {
	if s.userRec != nil && !s.userRec.WriteAllowed() {
		s.reply(550, "Permission denied.")
		return
	}
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_created",
		"session_id", s.id,
		"user", s.currentUser(),
		"path", s.redactPath(path),
	)
	s.reply(257, fmt.Sprintf("%q created.", path))
}

func (s *session) handleRMD(path string) {
	if s.userRec != nil && !s.userRec.WriteAllowed() {
		s.reply(550, "Permission denied.")
		return
	}
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_removed",
		"session_id", s.id,
		"user", s.currentUser(),
		"path", s.redactPath(path),
	)
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(path string) {
	if s.userRec != nil && !s.userRec.WriteAllowed() {
		s.reply(550, "Permission denied.")
		return
	}
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.stats.recordDelete()
	s.server.logger.Info("file_deleted",
		"session_id", s.id,
		"user", s.currentUser(),
		"path", s.redactPath(path),
	)
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(path string) {
	if _, err := s.fs.GetFileInfo(path); err != nil {
		s.reply(550, "File not found.")
		return
	}
	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(path string) {
	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""

	if s.userRec != nil && !s.userRec.WriteAllowed() {
		s.reply(550, "Permission denied.")
		return
	}
	if err := s.fs.Rename(from, path); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Requested file action successful, file renamed.")
}
