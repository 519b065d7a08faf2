package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/ftpd-project/ftpd/server"
)

// console is the interactive admin surface: it inspects live sessions,
// kicks them, and manages the user store without restarting the server.
type console struct {
	srv   *server.Server
	users *server.JSONUserManager
	done  bool
}

var consoleCommands = []prompt.Suggest{
	{Text: "who", Description: "List live sessions"},
	{Text: "kick", Description: "Close a session by id"},
	{Text: "stats", Description: "Show server counters"},
	{Text: "user", Description: "Manage accounts: user list|add|del"},
	{Text: "help", Description: "Show available commands"},
	{Text: "quit", Description: "Shut the server down and exit"},
}

func runConsole(srv *server.Server, users *server.JSONUserManager) {
	c := &console{srv: srv, users: users}

	color.Cyan("ftpd admin console. Type 'help' for commands.")

	p := prompt.New(
		c.execute,
		c.complete,
		prompt.OptionTitle("ftpd console"),
		prompt.OptionPrefix("ftpd> "),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return c.done
		}),
	)
	p.Run()
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	words := strings.Fields(text)

	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		return prompt.FilterHasPrefix(consoleCommands, d.GetWordBeforeCursor(), true)
	}

	switch words[0] {
	case "kick":
		var out []prompt.Suggest
		for _, info := range c.srv.Sessions() {
			out = append(out, prompt.Suggest{Text: info.ID, Description: info.User + "@" + info.RemoteAddr})
		}
		return prompt.FilterHasPrefix(out, d.GetWordBeforeCursor(), true)
	case "user":
		sub := []prompt.Suggest{
			{Text: "list", Description: "List accounts"},
			{Text: "add", Description: "user add <name> <home> [rw]"},
			{Text: "del", Description: "user del <name>"},
		}
		return prompt.FilterHasPrefix(sub, d.GetWordBeforeCursor(), true)
	}
	return nil
}

func (c *console) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "who":
		c.who()
	case "kick":
		if len(args) != 2 {
			color.Red("usage: kick <session-id>")
			return
		}
		if c.srv.Kick(args[1]) {
			color.Green("session %s closed", args[1])
		} else {
			color.Red("no such session: %s", args[1])
		}
	case "stats":
		c.stats()
	case "user":
		c.user(args[1:])
	case "help":
		for _, cmd := range consoleCommands {
			fmt.Printf("  %-6s %s\n", cmd.Text, cmd.Description)
		}
	case "quit", "exit":
		c.done = true
	default:
		color.Red("unknown command: %s (try 'help')", args[0])
	}
}

func (c *console) who() {
	sessions := c.srv.Sessions()
	if len(sessions) == 0 {
		fmt.Println("no live sessions")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "User", "Remote", "Connected", "Idle")
	now := time.Now()
	for _, info := range sessions {
		user := info.User
		if !info.LoggedIn {
			user = "(not logged in)"
		}
		table.Append(
			info.ID,
			user,
			info.RemoteAddr,
			info.ConnectedAt.Format("15:04:05"),
			now.Sub(info.LastAccess).Round(time.Second).String(),
		)
	}
	table.Render()
}

func (c *console) stats() {
	snap := c.srv.Stats()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Counter", "Value")
	table.Append("connections (total)", strconv.FormatInt(snap.TotalConnections, 10))
	table.Append("connections (current)", strconv.FormatInt(snap.CurrentConnections, 10))
	table.Append("logins (total)", strconv.FormatInt(snap.TotalLogins, 10))
	table.Append("logins (current)", strconv.FormatInt(snap.CurrentLogins, 10))
	table.Append("anonymous (current)", strconv.FormatInt(snap.CurrentAnonLogins, 10))
	table.Append("uploads", strconv.FormatInt(snap.TotalUploads, 10))
	table.Append("downloads", strconv.FormatInt(snap.TotalDownloads, 10))
	table.Append("bytes uploaded", strconv.FormatInt(snap.UploadBytes, 10))
	table.Append("bytes downloaded", strconv.FormatInt(snap.DownloadBytes, 10))
	table.Append("deletes", strconv.FormatInt(snap.TotalDeletes, 10))
	table.Render()
}

func (c *console) user(args []string) {
	if c.users == nil {
		color.Red("no user store configured (start with -users)")
		return
	}
	if len(args) == 0 {
		color.Red("usage: user list|add|del")
		return
	}

	switch args[0] {
	case "list":
		accounts := c.users.ListAccounts()
		if len(accounts) == 0 {
			fmt.Println("no accounts")
			return
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Name", "Home", "Write")
		for _, a := range accounts {
			access := "ro"
			if a.WriteAllowed() {
				access = "rw"
			}
			table.Append(a.Name(), a.HomeDir(), access)
		}
		table.Render()
	case "add":
		if len(args) < 3 {
			color.Red("usage: user add <name> <home> [rw]")
			return
		}
		name, home := args[1], args[2]
		writeAllowed := len(args) > 3 && args[3] == "rw"

		fmt.Printf("password for %s: ", name)
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			color.Red("read password: %v", err)
			return
		}

		account, err := server.NewAccount(name, string(pass), home, 0, writeAllowed)
		if err != nil {
			color.Red("create account: %v", err)
			return
		}
		if err := c.users.Save(account); err != nil {
			color.Red("save account: %v", err)
			return
		}
		color.Green("account %s saved", name)
	case "del":
		if len(args) != 2 {
			color.Red("usage: user del <name>")
			return
		}
		if err := c.users.Delete(args[1]); err != nil {
			color.Red("delete account: %v", err)
			return
		}
		color.Green("account %s deleted", args[1])
	default:
		color.Red("unknown subcommand: user %s", args[0])
	}
}
