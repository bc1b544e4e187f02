// Package shell implements the interactive terminal client: a login page
// for account management and a home page that runs a send prompt loop in
// the foreground while a background goroutine polls the user's mailbox.
// Both flows drive one shared failover client; its internal lock keeps
// connection replacement atomic across the two goroutines.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replchat/replchat/internal/failover"
	"github.com/replchat/replchat/internal/wire"
)

const defaultPollInterval = time.Second

// Client is the cluster connection the shell drives. *failover.Client
// implements it; tests substitute an in-memory fake.
type Client interface {
	Register(username, password string) (wire.Status, error)
	Login(username, password string) (wire.Status, error)
	DeleteAccount(username, password string) (wire.Status, error)
	SendMessage(sender, receiver, body string) (wire.Status, error)
	GetUsers() ([]string, error)
	ReceiveMessage(username string) ([]string, error)
}

// Shell runs the interactive session. Output goes through one mutex so the
// mailbox poller and the send prompt never interleave mid-line.
type Shell struct {
	client Client
	in     *bufio.Reader
	log    zerolog.Logger
	poll   time.Duration

	outMu sync.Mutex
	out   io.Writer

	username  string
	delivered int // mailbox entries already shown this session

	failOnce sync.Once
}

// New wires a shell to a cluster client and a terminal.
func New(client Client, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		client: client,
		in:     bufio.NewReader(in),
		out:    out,
		log:    log.With().Str("component", "shell").Logger(),
		poll:   defaultPollInterval,
	}
}

// Control flow between the pages. Quit ends the session cleanly; logout
// drops back to the login page.
var (
	errQuit   = errors.New("quit")
	errLogout = errors.New("logout")
)

// Run loops between the login page and the home page until the user exits,
// stdin closes, or the cluster is gone. The only error it returns is a
// terminal one; a clean exit is nil.
func (s *Shell) Run(ctx context.Context) error {
	for {
		username, err := s.loginPage()
		switch {
		case errors.Is(err, errQuit), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		err = s.homePage(ctx, username)
		switch {
		case err == nil, errors.Is(err, errQuit), errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, errLogout):
			continue
		default:
			return err
		}
	}
}

// loginPage prompts until an account flow succeeds. Register and login end
// the page with a logged-in username; delete always returns to the prompt so
// another account can be managed next.
func (s *Shell) loginPage() (string, error) {
	for {
		choice, err := s.prompt("\nRegister, Login, or Delete Account?\n\n")
		if err != nil {
			return "", err
		}

		choice = strings.ToLower(strings.TrimSpace(choice))
		switch {
		case choice == "exit" || choice == "quit":
			return "", errQuit
		case strings.Contains(choice, "r"):
			username, ok, err := s.register()
			if err != nil {
				return "", err
			}
			if ok {
				return username, nil
			}
		case strings.Contains(choice, "l"):
			username, ok, err := s.login()
			if err != nil {
				return "", err
			}
			if ok {
				return username, nil
			}
		default:
			if err := s.deleteAccount(); err != nil {
				return "", err
			}
		}
	}
}

func (s *Shell) register() (string, bool, error) {
	s.printf("Register with username and password.\n")
	username, password, err := s.credentials()
	if err != nil {
		return "", false, err
	}

	st, err := s.client.Register(username, password)
	if err != nil {
		return "", false, s.fatal(err)
	}
	s.printf("%s\n", st.Message)
	return username, st.Success, nil
}

func (s *Shell) login() (string, bool, error) {
	s.printf("Login with your username and password.\n")
	username, password, err := s.credentials()
	if err != nil {
		return "", false, err
	}

	st, err := s.client.Login(username, password)
	if err != nil {
		return "", false, s.fatal(err)
	}
	s.printf("%s\n", st.Message)
	return username, st.Success, nil
}

func (s *Shell) deleteAccount() error {
	s.printf("To delete an account, you must log in with the username and password.\n")
	username, password, err := s.credentials()
	if err != nil {
		return err
	}

	st, err := s.client.DeleteAccount(username, password)
	if err != nil {
		return s.fatal(err)
	}
	s.printf("%s\n", st.Message)
	return nil
}

func (s *Shell) credentials() (string, string, error) {
	username, err := s.prompt(">> Username: ")
	if err != nil {
		return "", "", err
	}
	password, err := s.prompt(">> Password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// homePage shows the banner, the unread backlog, and the user directory,
// then runs the send prompt with the mailbox poller behind it. It returns
// errLogout when the user wants the login page back.
func (s *Shell) homePage(ctx context.Context, username string) error {
	s.username = username
	s.delivered = 0

	s.printf("\n----------\n")
	s.printf("\nWELCOME TO THE CHAT HOME PAGE\n")

	if err := s.checkMailbox(true); err != nil {
		return err
	}

	users, err := s.client.GetUsers()
	if err != nil {
		return s.fatal(err)
	}
	s.printf("\nChat with another user!\n")
	s.printf("\nAll usernames: %s\n", strings.Join(users, ", "))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pollMailbox(ctx, stop)
	}()

	err = s.sendLoop()
	close(stop)
	<-done
	return err
}

// sendLoop reads recipient/body pairs until logout, exit, or stdin closing.
// Only failures are echoed; a delivered message needs no confirmation.
func (s *Shell) sendLoop() error {
	for {
		receiver, err := s.prompt("\n>> Enter recipient username: ")
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(receiver)) {
		case "logout":
			return errLogout
		case "exit", "quit":
			return errQuit
		}

		body, err := s.prompt(">> Enter message body: ")
		if err != nil {
			return err
		}

		st, err := s.client.SendMessage(s.username, receiver, body)
		if err != nil {
			return s.fatal(err)
		}
		if !st.Success {
			s.printf("%s\n", st.Message)
		}
	}
}

// pollMailbox re-reads the mailbox on a ticker and prints whatever the
// session has not shown yet. It stops quietly on a terminal error; the send
// loop surfaces the same error on its next call.
func (s *Shell) pollMailbox(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkMailbox(false); err != nil {
				return
			}
		}
	}
}

// checkMailbox fetches the full mailbox (reads never consume it) and prints
// the entries past the delivered high-water mark. The homepage sweep also
// reports the unread count and skips the prompt reprint.
func (s *Shell) checkMailbox(homepage bool) error {
	chats, err := s.client.ReceiveMessage(s.username)
	if err != nil {
		return s.fatal(err)
	}

	if homepage {
		s.printf("\nYou have %d unread message(s).\n", len(chats))
	}
	if len(chats) <= s.delivered {
		// a failover can land on a replica that missed late appends;
		// never re-print what the session has already shown
		s.delivered = len(chats)
		return nil
	}

	fresh := chats[s.delivered:]
	s.delivered = len(chats)
	s.printMessages(fresh, !homepage)
	return nil
}

// printMessages writes one batch under a single lock so the block cannot
// interleave with a prompt, then restores the prompt the poller painted over.
func (s *Shell) printMessages(msgs []string, reprompt bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	fmt.Fprint(s.out, "\n\n[YOUR MESSAGES]\n")
	for _, m := range msgs {
		fmt.Fprintf(s.out, "%s\n\n", m)
	}
	if reprompt {
		fmt.Fprint(s.out, ">> Enter recipient username: ")
	}
}

// prompt writes p and reads one line. The lock is released before the read:
// holding it through a blocked stdin read would freeze the poller's output.
func (s *Shell) prompt(p string) (string, error) {
	s.printf("%s", p)
	return s.readLine()
}

func (s *Shell) readLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// fatal prints the cluster-gone diagnostic exactly once, whichever goroutine
// hits it first, and passes the error through for Run to return.
func (s *Shell) fatal(err error) error {
	if errors.Is(err, failover.ErrAllServersFailed) {
		s.failOnce.Do(func() {
			s.printf("All 3 servers have failed.\n")
			s.log.Error().Msg("every replica is unreachable")
		})
	}
	return err
}
