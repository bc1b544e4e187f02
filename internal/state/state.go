package state

import (
	"fmt"
	"sort"

	"github.com/replchat/replchat/internal/wire"
)

// Response texts are part of the external contract and must not drift; the
// interactive client prints them verbatim, leading newlines included.
const (
	msgRegistered    = "\nRegistration successful."
	msgUsernameTaken = "\nThe username you requested is already taken."
	msgLoggedIn      = "\nLogin successful."
	msgUnknownUser   = "\nERROR: Username does not exist in the database. Please try again."
	msgBadPassword   = "\nERROR: Invalid password. Please try again."
	msgDeleted       = "\nAccount successfully deleted."
	msgMessageAdded  = "Message successfully added."
	msgUnknownParty  = "\nERROR: either sender or receiver are not in username database. Please try again!\n"
)

// MessageRecord is one undelivered message. Mailbox position encodes
// insertion order.
type MessageRecord struct {
	Sender string
	Body   string
}

// Render formats a record the way ReceiveMessage exposes it.
func (m MessageRecord) Render() string {
	return fmt.Sprintf("From %s: %s", m.Sender, m.Body)
}

// State is the replicated state machine: account credentials plus one
// ordered mailbox per recipient. Fields are exported for gob snapshots.
// State itself is not goroutine safe; the owning replica serializes access.
type State struct {
	Accounts  map[string]string
	Mailboxes map[string][]MessageRecord
}

// New returns an empty state machine.
func New() *State {
	return &State{
		Accounts:  make(map[string]string),
		Mailboxes: make(map[string][]MessageRecord),
	}
}

// Register creates an account. It fails when the username is taken; a
// successful call mutates state and must be persisted by the caller.
func (s *State) Register(username, password string) wire.Status {
	if _, exists := s.Accounts[username]; exists {
		return wire.Status{Message: msgUsernameTaken}
	}
	s.Accounts[username] = password
	return wire.Status{Success: true, Message: msgRegistered}
}

// Login checks credentials. Read-only: no session state is kept.
func (s *State) Login(username, password string) wire.Status {
	if st, ok := s.authenticate(username, password); !ok {
		return st
	}
	return wire.Status{Success: true, Message: msgLoggedIn}
}

// DeleteAccount removes an account after a credential check. The account's
// pending mailbox is left in place; stored messages stay readable.
func (s *State) DeleteAccount(username, password string) wire.Status {
	if st, ok := s.authenticate(username, password); !ok {
		return st
	}
	delete(s.Accounts, username)
	return wire.Status{Success: true, Message: msgDeleted}
}

// SendMessage appends to the receiver's mailbox. Both parties must exist at
// append time; deleting either later does not unwind stored messages.
func (s *State) SendMessage(sender, receiver, body string) wire.Status {
	if _, ok := s.Accounts[sender]; !ok {
		return wire.Status{Message: msgUnknownParty}
	}
	if _, ok := s.Accounts[receiver]; !ok {
		return wire.Status{Message: msgUnknownParty}
	}
	s.Mailboxes[receiver] = append(s.Mailboxes[receiver], MessageRecord{Sender: sender, Body: body})
	return wire.Status{Success: true, Message: msgMessageAdded}
}

// Users returns every registered username, sorted for deterministic output.
func (s *State) Users() []string {
	users := make([]string, 0, len(s.Accounts))
	for u := range s.Accounts {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Mailbox renders the full mailbox of username, oldest first. Reading does
// not consume: repeated calls return the same sequence until new sends land.
func (s *State) Mailbox(username string) []string {
	records := s.Mailboxes[username]
	chats := make([]string, len(records))
	for i, m := range records {
		chats[i] = m.Render()
	}
	return chats
}

func (s *State) authenticate(username, password string) (wire.Status, bool) {
	stored, ok := s.Accounts[username]
	if !ok {
		return wire.Status{Message: msgUnknownUser}, false
	}
	if stored != password {
		return wire.Status{Message: msgBadPassword}, false
	}
	return wire.Status{}, true
}
