package server

// handlerFunc is the uniform command handler shape. Handlers reply through
// the session and may assume the pre-login gate already ran.
type handlerFunc func(s *session, arg string)

// preLoginAllowed is the fixed set of verbs a client may issue before a
// successful login. Everything else gets 530 and the connection stays open.
var preLoginAllowed = map[string]bool{
	"USER": true,
	"PASS": true,
	"QUIT": true,
	"AUTH": true,
	"HELP": true,
	"SYST": true,
	"FEAT": true,
	"PBSZ": true,
	"PROT": true,
	"LANG": true,
	"ACCT": true,
	"HOST": true,
}

// commandTable maps verbs to handlers. Populated once at package init and
// read-only afterwards, so every session goroutine may look it up without
// locking. QUIT is handled by the dispatch loop itself.
var commandTable = map[string]handlerFunc{
	// Access control
	"USER": (*session).handleUSER,
	"PASS": (*session).handlePASS,
	"ACCT": (*session).handleACCT,
	"HOST": (*session).handleHOST,

	// Directory navigation
	"CWD":  (*session).handleCWD,
	"XCWD": (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"XCUP": (*session).handleCDUP,
	"PWD":  (*session).handlePWD,
	"XPWD": (*session).handlePWD,

	// Directory and file management
	"MKD":  (*session).handleMKD,
	"XMKD": (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"XRMD": (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,

	// Listings
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"MLSD": (*session).handleMLSD,
	"MLST": (*session).handleMLST,

	// Transfers
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"APPE": (*session).handleAPPE,
	"STOU": (*session).handleSTOU,
	"ABOR": (*session).handleABOR,

	// Transfer parameters
	"TYPE": (*session).handleTYPE,
	"MODE": (*session).handleMODE,
	"STRU": (*session).handleSTRU,
	"REST": (*session).handleREST,

	// Data connection setup
	"PORT": (*session).handlePORT,
	"EPRT": (*session).handleEPRT,
	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,

	// Information
	"SIZE": (*session).handleSIZE,
	"MDTM": (*session).handleMDTM,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"SYST": (*session).handleSYST,
	"STAT": (*session).handleSTAT,
	"HELP": (*session).handleHELP,
	"LANG": (*session).handleLANG,
	"NOOP": (*session).handleNOOP,

	// Security
	"AUTH": (*session).handleAUTH,
	"PBSZ": (*session).handlePBSZ,
	"PROT": (*session).handlePROT,

	// Extensions
	"HASH": (*session).handleHASH,
	"MFMT": (*session).handleMFMT,
	"SITE": (*session).handleSITE,
}
