// Package failover provides the client side of the chain: one logical
// connection that walks replica ids upward when the current one stops
// answering, and never walks back down.
package failover

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replchat/replchat/internal/wire"
)

// ErrAllServersFailed is terminal: every replica was tried in order and
// none answered within the deadline.
var ErrAllServersFailed = errors.New("all servers failed")

const defaultTimeout = time.Second

// Config wires a client to the cluster.
type Config struct {
	Addrs   []string      // host:port per replica, index-aligned with ids
	Timeout time.Duration // per-call deadline, defaults to 1s
}

// Client is a failover-aware RPC client. One mutex guards the leader index
// and the connection together, so connection replacement is atomic with
// respect to in-flight calls; the interactive send and receive loops share
// a single Client on purpose.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	leader int
	conn   *rpc.Client
}

// New returns a client that starts at replica 0. Nothing is dialed until
// the first call.
func New(cfg Config) (*Client, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("at least one replica address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "failover").Logger(),
	}, nil
}

// Leader reports the id of the replica the client currently trusts.
func (c *Client) Leader() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// Close drops the current connection. The client stays usable; the next
// call redials.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Register creates an account. All public methods mark their requests as
// client-originated, which is how a contacted follower learns it is leader.
func (c *Client) Register(username, password string) (wire.Status, error) {
	var resp wire.Status
	req := &wire.RegisterRequest{Username: username, Password: password, IsClient: true}
	err := c.call(wire.MethodRegister, req, &resp)
	return resp, err
}

// Login checks credentials against whichever replica currently answers.
func (c *Client) Login(username, password string) (wire.Status, error) {
	var resp wire.Status
	req := &wire.LoginRequest{Username: username, Password: password, IsClient: true}
	err := c.call(wire.MethodLogin, req, &resp)
	return resp, err
}

// DeleteAccount removes an account after a credential check.
func (c *Client) DeleteAccount(username, password string) (wire.Status, error) {
	var resp wire.Status
	req := &wire.DeleteAccountRequest{Username: username, Password: password, IsClient: true}
	err := c.call(wire.MethodDeleteAccount, req, &resp)
	return resp, err
}

// SendMessage delivers body from sender to receiver's mailbox.
func (c *Client) SendMessage(sender, receiver, body string) (wire.Status, error) {
	var resp wire.Status
	req := &wire.SendMessageRequest{Sender: sender, Receiver: receiver, Body: body, IsClient: true}
	err := c.call(wire.MethodSendMessage, req, &resp)
	return resp, err
}

// GetUsers lists every registered username.
func (c *Client) GetUsers() ([]string, error) {
	var resp wire.AllUsers
	err := c.call(wire.MethodGetUsers, &wire.Empty{}, &resp)
	return resp.Users, err
}

// ReceiveMessage fetches username's rendered mailbox, oldest first.
func (c *Client) ReceiveMessage(username string) ([]string, error) {
	var resp wire.AllChats
	err := c.call(wire.MethodReceiveMessage, &wire.User{Username: username}, &resp)
	return resp.Chats, err
}

// call drives one request to completion: invoke on the current replica with
// the deadline, advance to the next id on dial failure, transport error, or
// timeout, and retry the same request until a replica answers or the chain
// is exhausted. An error returned by a handler is an application response,
// not a reason to fail over.
func (c *Client) call(method string, args, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.log.With().
		Str("method", method).
		Str("request_id", uuid.NewString()).
		Logger()

	for {
		if c.leader >= len(c.cfg.Addrs) {
			return ErrAllServersFailed
		}

		if c.conn == nil {
			conn, err := net.DialTimeout("tcp", c.cfg.Addrs[c.leader], c.cfg.Timeout)
			if err != nil {
				logger.Warn().Err(err).Int("replica", c.leader).Msg("dial failed")
				if err := c.advanceLocked(); err != nil {
					return err
				}
				continue
			}
			c.conn = rpc.NewClient(conn)
		}

		call := c.conn.Go(method, args, reply, nil)
		select {
		case <-call.Done:
			if call.Error == nil {
				return nil
			}
			var serverErr rpc.ServerError
			if errors.As(call.Error, &serverErr) {
				// the replica answered; surface it instead of failing over
				return fmt.Errorf("%s: %w", method, call.Error)
			}
			logger.Warn().Err(call.Error).Int("replica", c.leader).Msg("transport failure")
			if err := c.advanceLocked(); err != nil {
				return err
			}
		case <-time.After(c.cfg.Timeout):
			logger.Warn().Int("replica", c.leader).Dur("timeout", c.cfg.Timeout).Msg("deadline exceeded")
			if err := c.advanceLocked(); err != nil {
				return err
			}
		}
	}
}

// advanceLocked abandons the current replica for good. The leader index
// never decreases.
func (c *Client) advanceLocked() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.leader++
	if c.leader >= len(c.cfg.Addrs) {
		return ErrAllServersFailed
	}
	c.log.Warn().Int("replica", c.leader).Msg("failing over to next replica")
	return nil
}
