package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/replchat/replchat/internal/failover"
	"github.com/replchat/replchat/internal/state"
	"github.com/replchat/replchat/internal/wire"
)

// fakeClient runs the real state machine in memory. Setting err makes every
// call fail with it, which is how a dead cluster looks to the shell.
type fakeClient struct {
	mu  sync.Mutex
	st  *state.State
	err error
}

func newFakeClient() *fakeClient {
	return &fakeClient{st: state.New()}
}

func (f *fakeClient) Register(username, password string) (wire.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return wire.Status{}, f.err
	}
	return f.st.Register(username, password), nil
}

func (f *fakeClient) Login(username, password string) (wire.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return wire.Status{}, f.err
	}
	return f.st.Login(username, password), nil
}

func (f *fakeClient) DeleteAccount(username, password string) (wire.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return wire.Status{}, f.err
	}
	return f.st.DeleteAccount(username, password), nil
}

func (f *fakeClient) SendMessage(sender, receiver, body string) (wire.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return wire.Status{}, f.err
	}
	return f.st.SendMessage(sender, receiver, body), nil
}

func (f *fakeClient) GetUsers() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.st.Users(), nil
}

func (f *fakeClient) ReceiveMessage(username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.st.Mailbox(username), nil
}

// seed mutates the fake's state under its lock, standing in for another
// client talking to the cluster.
func (f *fakeClient) seed(mutate func(*state.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f.st)
}

// runShell drives a session with scripted stdin and returns the output. The
// poll interval is long so background ticks never fire unless a test wants
// them.
func runShell(t *testing.T, client Client, input string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	sh := New(client, strings.NewReader(input), &out)
	sh.poll = time.Hour
	err := sh.Run(context.Background())
	return out.String(), err
}

func wantContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Errorf("output missing %q\noutput:\n%s", want, out)
	}
}

func TestRegisterThenExit(t *testing.T) {
	client := newFakeClient()

	out, err := runShell(t, client, "r\nuser1\npass1\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, "Register, Login, or Delete Account?")
	wantContains(t, out, "Register with username and password.")
	wantContains(t, out, "\nRegistration successful.")
	wantContains(t, out, "WELCOME TO THE CHAT HOME PAGE")
	wantContains(t, out, "You have 0 unread message(s).")
	wantContains(t, out, "All usernames: user1")

	if _, ok := client.st.Accounts["user1"]; !ok {
		t.Error("register flow did not create the account")
	}
}

func TestLoginRetriesUntilSuccess(t *testing.T) {
	client := newFakeClient()
	client.seed(func(st *state.State) { st.Register("user1", "pass1") })

	out, err := runShell(t, client, "l\nuser1\nwrong\nl\nuser1\npass1\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, "Login with your username and password.")
	wantContains(t, out, "\nERROR: Invalid password. Please try again.")
	wantContains(t, out, "\nLogin successful.")
	wantContains(t, out, "WELCOME TO THE CHAT HOME PAGE")
}

func TestLoginUnknownUser(t *testing.T) {
	client := newFakeClient()

	out, err := runShell(t, client, "l\nghost\npass\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, "\nERROR: Username does not exist in the database. Please try again.")
	if strings.Contains(out, "WELCOME") {
		t.Error("failed login reached the home page")
	}
}

func TestDeleteAccountReturnsToLoginPage(t *testing.T) {
	client := newFakeClient()
	client.seed(func(st *state.State) { st.Register("user1", "pass1") })

	out, err := runShell(t, client, "d\nuser1\npass1\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, "To delete an account, you must log in with the username and password.")
	wantContains(t, out, "\nAccount successfully deleted.")
	if strings.Contains(out, "WELCOME") {
		t.Error("delete flow reached the home page")
	}
	if _, ok := client.st.Accounts["user1"]; ok {
		t.Error("delete flow kept the account")
	}
}

func TestSendMessage(t *testing.T) {
	client := newFakeClient()
	client.seed(func(st *state.State) { st.Register("user2", "pass2") })

	input := "r\nuser1\npass1\nuser2\nhello there\nlogout\nexit\n"
	out, err := runShell(t, client, input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, ">> Enter recipient username: ")
	wantContains(t, out, ">> Enter message body: ")

	want := []string{"From user1: hello there"}
	if diff := cmp.Diff(want, client.st.Mailbox("user2")); diff != "" {
		t.Errorf("mailbox mismatch (-want +got):\n%s", diff)
	}

	// logout drops back to the login page before exit ends the session
	if got := strings.Count(out, "Register, Login, or Delete Account?"); got != 2 {
		t.Errorf("login page shown %d times, want 2", got)
	}
}

func TestSendToUnknownUserEchoesError(t *testing.T) {
	client := newFakeClient()

	out, err := runShell(t, client, "r\nuser1\npass1\nbaduser\nOops\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, "\nERROR: either sender or receiver are not in username database. Please try again!\n")
}

func TestHomePageShowsBacklog(t *testing.T) {
	client := newFakeClient()
	client.seed(func(st *state.State) {
		st.Register("user1", "pass1")
		st.Register("user2", "pass2")
		st.SendMessage("user2", "user1", "waiting for you")
	})

	out, err := runShell(t, client, "l\nuser1\npass1\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantContains(t, out, "You have 1 unread message(s).")
	wantContains(t, out, "[YOUR MESSAGES]")
	wantContains(t, out, "From user2: waiting for you")
	wantContains(t, out, "All usernames: user1, user2")
}

func TestPollerPrintsOnlyNewMessages(t *testing.T) {
	client := newFakeClient()
	client.seed(func(st *state.State) {
		st.Register("user1", "pass1")
		st.Register("user2", "pass2")
		st.SendMessage("user2", "user1", "old news")
	})

	in, inW := io.Pipe()
	var out syncBuffer
	sh := New(client, in, &out)
	sh.poll = 10 * time.Millisecond

	runErr := make(chan error, 1)
	go func() { runErr <- sh.Run(context.Background()) }()

	write := func(s string) {
		t.Helper()
		if _, err := inW.Write([]byte(s)); err != nil {
			t.Errorf("pipe write error = %v", err)
		}
	}

	write("l\nuser1\npass1\n")
	time.Sleep(100 * time.Millisecond)

	client.seed(func(st *state.State) { st.SendMessage("user2", "user1", "surprise") })
	time.Sleep(300 * time.Millisecond)

	write("exit\n")
	inW.Close()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after exit")
	}

	got := out.String()
	wantContains(t, got, "From user2: surprise")
	// the backlog entry was shown on the homepage sweep and must not repeat
	if strings.Count(got, "From user2: old news") != 1 {
		t.Errorf("backlog message printed %d times, want 1\noutput:\n%s",
			strings.Count(got, "From user2: old news"), got)
	}
	// the poller repaints the prompt it interrupted
	wantContains(t, got, "[YOUR MESSAGES]\nFrom user2: surprise\n\n>> Enter recipient username: ")
}

func TestAllServersFailedIsTerminal(t *testing.T) {
	client := newFakeClient()
	client.err = failover.ErrAllServersFailed

	out, err := runShell(t, client, "l\nuser1\npass1\n")
	if !errors.Is(err, failover.ErrAllServersFailed) {
		t.Fatalf("Run() error = %v, want ErrAllServersFailed", err)
	}

	wantContains(t, out, "All 3 servers have failed.")
	if got := strings.Count(out, "All 3 servers have failed."); got != 1 {
		t.Errorf("diagnostic printed %d times, want 1", got)
	}
}

func TestClusterDiesMidSession(t *testing.T) {
	client := newFakeClient()
	client.seed(func(st *state.State) {
		st.Register("user1", "pass1")
		st.Register("user2", "pass2")
	})

	// login, homepage sweep, and directory fetch succeed; the first send
	// finds every replica gone
	flaky := &failAfter{inner: client, allow: 3}
	input := "l\nuser1\npass1\nuser2\nnever arrives\n"

	var out bytes.Buffer
	sh := New(flaky, strings.NewReader(input), &out)
	sh.poll = time.Hour

	err := sh.Run(context.Background())
	if !errors.Is(err, failover.ErrAllServersFailed) {
		t.Fatalf("Run() error = %v, want ErrAllServersFailed", err)
	}
	wantContains(t, out.String(), "WELCOME TO THE CHAT HOME PAGE")
	wantContains(t, out.String(), "All 3 servers have failed.")
}

func TestExitAtLoginPage(t *testing.T) {
	out, err := runShell(t, newFakeClient(), "exit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wantContains(t, out, "Register, Login, or Delete Account?")
}

func TestStdinEOFExitsCleanly(t *testing.T) {
	if _, err := runShell(t, newFakeClient(), ""); err != nil {
		t.Fatalf("Run() on closed stdin error = %v", err)
	}
}

func TestChoiceMatching(t *testing.T) {
	tests := []struct {
		name   string
		choice string
		want   string
	}{
		{name: "single letter register", choice: "r", want: "Register with username and password."},
		{name: "word register", choice: "Register", want: "Register with username and password."},
		{name: "single letter login", choice: "l", want: "Login with your username and password."},
		{name: "word login", choice: "login", want: "Login with your username and password."},
		{name: "anything else deletes", choice: "d", want: "To delete an account, you must log in with the username and password."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			// every flow reads two credential lines; exit ends the run
			// whether it lands on the login page or the home page
			out, err := runShell(t, client, tt.choice+"\nghost\nnope\nexit\n")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			wantContains(t, out, tt.want)
		})
	}
}

// failAfter passes through a fixed number of calls, then reports every
// replica dead.
type failAfter struct {
	inner Client

	mu    sync.Mutex
	allow int
}

func (f *failAfter) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allow <= 0 {
		return failover.ErrAllServersFailed
	}
	f.allow--
	return nil
}

func (f *failAfter) Register(u, p string) (wire.Status, error) {
	if err := f.take(); err != nil {
		return wire.Status{}, err
	}
	return f.inner.Register(u, p)
}

func (f *failAfter) Login(u, p string) (wire.Status, error) {
	if err := f.take(); err != nil {
		return wire.Status{}, err
	}
	return f.inner.Login(u, p)
}

func (f *failAfter) DeleteAccount(u, p string) (wire.Status, error) {
	if err := f.take(); err != nil {
		return wire.Status{}, err
	}
	return f.inner.DeleteAccount(u, p)
}

func (f *failAfter) SendMessage(s, r, b string) (wire.Status, error) {
	if err := f.take(); err != nil {
		return wire.Status{}, err
	}
	return f.inner.SendMessage(s, r, b)
}

func (f *failAfter) GetUsers() ([]string, error) {
	if err := f.take(); err != nil {
		return nil, err
	}
	return f.inner.GetUsers()
}

func (f *failAfter) ReceiveMessage(u string) ([]string, error) {
	if err := f.take(); err != nil {
		return nil, err
	}
	return f.inner.ReceiveMessage(u)
}

// syncBuffer is a bytes.Buffer safe to read while the shell still owns it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
