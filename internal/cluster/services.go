package cluster

import (
	"github.com/replchat/replchat/internal/metrics"
	"github.com/replchat/replchat/internal/state"
	"github.com/replchat/replchat/internal/wire"
)

// AuthService exposes the account RPCs. Methods follow net/rpc signatures
// and are registered under the "AuthService" name on every replica.
type AuthService struct {
	r *Replica
}

func (s *AuthService) Register(req *wire.RegisterRequest, resp *wire.Status) error {
	fwd := *req
	fwd.IsClient = false
	*resp = s.r.applyMutation(wire.MethodRegister, req.IsClient, &fwd, func(st *state.State) wire.Status {
		return st.Register(req.Username, req.Password)
	})
	return nil
}

// Login is read-only: no session state is kept, so it is neither forwarded
// nor persisted and any replica can answer it.
func (s *AuthService) Login(req *wire.LoginRequest, resp *wire.Status) error {
	*resp = s.r.readOnly(wire.MethodLogin, func(st *state.State) wire.Status {
		return st.Login(req.Username, req.Password)
	})
	return nil
}

func (s *AuthService) DeleteAccount(req *wire.DeleteAccountRequest, resp *wire.Status) error {
	fwd := *req
	fwd.IsClient = false
	*resp = s.r.applyMutation(wire.MethodDeleteAccount, req.IsClient, &fwd, func(st *state.State) wire.Status {
		return st.DeleteAccount(req.Username, req.Password)
	})
	return nil
}

// ChatService exposes the messaging RPCs, registered as "ChatService".
type ChatService struct {
	r *Replica
}

func (s *ChatService) SendMessage(req *wire.SendMessageRequest, resp *wire.Status) error {
	fwd := *req
	fwd.IsClient = false
	*resp = s.r.applyMutation(wire.MethodSendMessage, req.IsClient, &fwd, func(st *state.State) wire.Status {
		return st.SendMessage(req.Sender, req.Receiver, req.Body)
	})
	return nil
}

func (s *ChatService) GetUsers(req *wire.Empty, resp *wire.AllUsers) error {
	r := s.r
	r.mu.RLock()
	resp.Users = r.st.Users()
	r.mu.RUnlock()

	metrics.ObserveRPC(r.cfg.ID, wire.MethodGetUsers, true)
	return nil
}

// ReceiveMessage returns the recipient's whole mailbox without consuming
// it; the interactive client tracks what it has already displayed.
func (s *ChatService) ReceiveMessage(req *wire.User, resp *wire.AllChats) error {
	r := s.r
	r.mu.RLock()
	resp.Chats = r.st.Mailbox(req.Username)
	r.mu.RUnlock()

	metrics.ObserveRPC(r.cfg.ID, wire.MethodReceiveMessage, true)
	return nil
}
