// Bunsho terminal client.
//
// Connects to a Bunsho file-storage server, authenticates, and navigates
// directory listings from an interactive shell.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Galax028/Bunsho/internal/config"
	"github.com/Galax028/Bunsho/internal/logging"
	"github.com/Galax028/Bunsho/pkg/api"
	"github.com/Galax028/Bunsho/pkg/explorer"
	"github.com/Galax028/Bunsho/pkg/protocol"
	"github.com/Galax028/Bunsho/pkg/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	serverURL := flag.String("server", "", "server base URL (overrides config)")
	verbose := flag.Bool("v", false, "debug logging")
	showVer := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVer {
		fmt.Printf("Bunsho Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
		cfg.Origin = ""
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	sess := session.New(cfg.TokenFile)
	if err := sess.Restore(); err != nil {
		logging.Fatal("session restore failed", zap.Error(err))
	}

	gw := api.New(api.Config{
		BaseURL: cfg.BaseURL(),
		Session: sess,
		Timeout: cfg.HTTPTimeout,
	})

	sh := &shell{gw: gw, sess: sess, in: bufio.NewScanner(os.Stdin)}
	sh.ctrl = explorer.New(gw, sess, func(r explorer.Route) { sh.route = r })

	logging.Info("connected", zap.String("server", cfg.BaseURL()))
	sh.run()
}

// shell is the interactive command loop. The explorer's route signal decides
// whether the prompt is in login or navigation mode.
type shell struct {
	gw    *api.Client
	sess  *session.Store
	ctrl  *explorer.Controller
	in    *bufio.Scanner
	route explorer.Route
}

func (s *shell) run() {
	ctx := context.Background()

	if s.sess.Authenticated() {
		s.route = explorer.RouteExplorer
		if err := s.ctrl.Enter(ctx, 0, "/"); err == nil {
			s.printListing()
		} else {
			fmt.Println("Error:", err)
		}
	} else {
		fmt.Println("Not logged in. Type 'login' to authenticate.")
	}

	for {
		fmt.Print(s.prompt())
		if !s.in.Scan() {
			return
		}
		args := strings.Fields(strings.TrimSpace(s.in.Text()))
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "help":
			s.printHelp()
		case "login":
			s.login(ctx)
		case "ls":
			s.enter(ctx, s.ctrl.State().Location, s.ctrl.State().Path)
		case "cd":
			if len(args) < 2 {
				fmt.Println("Usage: cd <folder>")
				continue
			}
			p, err := s.ctrl.Down(args[1])
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			s.enter(ctx, s.ctrl.State().Location, p)
		case "up":
			p, err := s.ctrl.Up()
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			s.enter(ctx, s.ctrl.State().Location, p)
		case "pwd":
			st := s.ctrl.State()
			fmt.Printf("location %d, %s\n", st.Location, st.Path)
		case "loc":
			if len(args) < 2 {
				fmt.Println("Usage: loc <index>")
				continue
			}
			var index int
			if _, err := fmt.Sscanf(args[1], "%d", &index); err != nil || index < 0 {
				fmt.Println("Location must be a non-negative integer")
				continue
			}
			s.enter(ctx, index, "/")
		case "mv":
			s.move(ctx, args[1:], false)
		case "rename":
			s.move(ctx, args[1:], true)
		case "rm":
			if len(args) < 2 {
				fmt.Println("Usage: rm <path>")
				continue
			}
			target, err := s.resolve(args[1])
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			if err := s.gw.Remove(ctx, s.ctrl.State().Location, target); err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println("Deleted")
			s.enter(ctx, s.ctrl.State().Location, s.ctrl.State().Path)
		case "whoami":
			s.whoami(ctx)
		case "logout":
			if err := s.ctrl.Logout(); err != nil {
				fmt.Println("Error:", err)
			}
			fmt.Println("Logged out")
		case "logout-all":
			if err := s.gw.LogoutAll(ctx); err != nil {
				fmt.Println("Error:", err)
				continue
			}
			if err := s.ctrl.Logout(); err != nil {
				fmt.Println("Error:", err)
			}
			fmt.Println("Logged out everywhere")
		case "update-cfg":
			if err := s.gw.UpdateConfig(ctx); err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println("Server configuration reloaded")
		case "exit", "quit":
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

func (s *shell) prompt() string {
	if s.route != explorer.RouteExplorer {
		return "bunsho (login)> "
	}
	st := s.ctrl.State()
	return fmt.Sprintf("bunsho %d:%s> ", st.Location, st.Path)
}

func (s *shell) printHelp() {
	fmt.Println(`Available commands:
  login                log in with username and password
  ls                   refresh and show the current folder
  cd <folder>          enter a child folder
  up                   go to the parent folder
  pwd                  show the current location and path
  loc <index>          switch to another storage location
  mv <src> <dst>       move a file/folder into another folder
  rename <src> <name>  rename a file/folder
  rm <path>            delete a file/folder
  whoami               show the logged-in user and permissions
  logout               log out on this device
  logout-all           log out on every device
  update-cfg           reload the server configuration (admin)
  exit                 quit`)
}

func (s *shell) login(ctx context.Context) {
	fmt.Print("Username: ")
	if !s.in.Scan() {
		return
	}
	uname := strings.TrimSpace(s.in.Text())

	fmt.Print("Password: ")
	passwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	if err := s.ctrl.Login(ctx, uname, string(passwd)); err != nil {
		if apiErr, ok := api.AsError(err); ok {
			fmt.Println(apiErr.Message)
		} else {
			fmt.Println("Error:", err)
		}
		return
	}
	s.enter(ctx, 0, "/")
}

// enter navigates and renders, falling back to the login prompt when the
// session has expired.
func (s *shell) enter(ctx context.Context, location int, folder string) {
	if err := s.ctrl.Enter(ctx, location, folder); err != nil {
		if api.IsUnauthorized(err) {
			fmt.Println("Session expired, please log in again.")
		} else {
			fmt.Println("Error:", err)
		}
		return
	}
	s.printListing()
}

func (s *shell) printListing() {
	st := s.ctrl.State()
	if st.Listing == nil {
		return
	}
	for _, e := range st.Listing {
		fmt.Println(formatEntry(e))
	}
	fmt.Printf("%d items\n", len(st.Listing))
}

func formatEntry(e protocol.DirectoryEntry) string {
	name := e.Name
	kind := e.Mimetype
	size := e.Size
	if e.IsDirectory {
		name += "/"
		kind = "folder"
		size = "-"
	}
	created := time.Unix(e.Created, 0).Format("2006-01-02 15:04")
	return fmt.Sprintf("%-40s %10s  %s  %s", name, size, created, kind)
}

func (s *shell) whoami(ctx context.Context) {
	claims, err := s.sess.Claims()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	user, err := s.gw.User(ctx, claims.Uname)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Println("Username:", user.Uname)
	if claims.ExpiresAt != nil {
		fmt.Println("Token expires:", claims.ExpiresAt.Format(time.RFC1123))
	}
	if user.AuthorizedLocations.All {
		fmt.Println("Locations: all")
	} else {
		fmt.Println("Locations:", strings.Join(user.AuthorizedLocations.Names, ", "))
	}
	p := user.Permissions
	fmt.Printf("Permissions: admin=%t write=%t move=%t delete=%t share=%t\n",
		p.Admin, p.Write, p.Move, p.Delete, p.Share)
}

// move handles mv (into a destination folder) and rename (new name).
func (s *shell) move(ctx context.Context, args []string, rename bool) {
	if len(args) < 2 {
		if rename {
			fmt.Println("Usage: rename <src> <name>")
		} else {
			fmt.Println("Usage: mv <src> <dst>")
		}
		return
	}
	src, err := s.resolve(args[0])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	dst := args[1]
	if !rename {
		if dst, err = s.resolve(dst); err != nil {
			fmt.Println("Error:", err)
			return
		}
	}
	if err := s.gw.Move(ctx, s.ctrl.State().Location, src, dst, rename); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("Done")
	s.enter(ctx, s.ctrl.State().Location, s.ctrl.State().Path)
}

// resolve makes a shell argument absolute relative to the current folder.
// A traversal-escaping argument is an error, never a different path.
func (s *shell) resolve(arg string) (string, error) {
	if strings.HasPrefix(arg, "/") {
		return arg, nil
	}
	return explorer.Join(s.ctrl.State().Path, arg)
}
