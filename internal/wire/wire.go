package wire

// RPC method names as registered on every replica. Account management and
// messaging are split into two services; net/rpc routes both over one
// connection.
const (
	MethodRegister       = "AuthService.Register"
	MethodLogin          = "AuthService.Login"
	MethodDeleteAccount  = "AuthService.DeleteAccount"
	MethodSendMessage    = "ChatService.SendMessage"
	MethodGetUsers       = "ChatService.GetUsers"
	MethodReceiveMessage = "ChatService.ReceiveMessage"
)

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Username string
	Password string
	IsClient bool // true when sent by a client, false on leader->follower forwards
}

// LoginRequest checks credentials. Read-only: no session state is created.
type LoginRequest struct {
	Username string
	Password string
	IsClient bool
}

// DeleteAccountRequest removes an account after a credential check.
type DeleteAccountRequest struct {
	Username string
	Password string
	IsClient bool
}

// SendMessageRequest appends a message to the receiver's mailbox.
type SendMessageRequest struct {
	Sender   string
	Receiver string
	Body     string
	IsClient bool
}

// Empty is the argument for requests that carry no payload. The placeholder
// field is never set; gob needs at least one exported field to encode a
// struct, and zero values are omitted from the wire anyway.
type Empty struct {
	Unused bool
}

// User names the account whose mailbox ReceiveMessage reads.
type User struct {
	Username string
}

// Status is the common reply for auth and send operations. Message holds
// the exact user-facing text; validation failures are Success=false here,
// never transport errors.
type Status struct {
	Success bool
	Message string
}

// AllUsers lists every registered username.
type AllUsers struct {
	Users []string
}

// AllChats holds a mailbox rendered as display strings, oldest first.
type AllChats struct {
	Chats []string
}
