// Package cluster implements one replica of the chat service: the RPC
// surface, the leader/follower roles, and best-effort replication to
// higher-id followers. The lowest live id is the leader; clients enforce
// that ordering by walking ids upward on timeout, and a follower promotes
// itself the first time a client request reaches it directly.
package cluster

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replchat/replchat/internal/metrics"
	"github.com/replchat/replchat/internal/state"
	"github.com/replchat/replchat/internal/store"
)

const (
	defaultRPCTimeout = time.Second
	defaultMaxConns   = 10
)

// Config wires one replica into the chain.
type Config struct {
	ID         int
	Addrs      []string // host:port per replica, index-aligned with ids
	DBPath     string
	RPCTimeout time.Duration // forward deadline; defaults to 1s
	MaxConns   int           // concurrently served connections; defaults to 10
}

// follower is the leader-side view of one higher-id replica. The client is
// dialed lazily on the first forward; once alive goes false it stays false
// for the lifetime of this process.
type follower struct {
	id     int
	addr   string
	client *rpc.Client
	alive  bool
}

// Replica is one member of the chain. All role and state transitions happen
// under mu: mutations take it exclusively, reads take it shared.
type Replica struct {
	cfg Config
	log zerolog.Logger

	mu        sync.RWMutex
	leader    bool
	followers []*follower
	st        *state.State
	db        *store.Store

	lis      net.Listener
	srv      *rpc.Server
	sem      chan struct{}
	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New loads the replica's snapshot and prepares its follower table. Replica
// id 0 boots as leader; everyone else waits to be promoted by a client.
func New(cfg Config) (*Replica, error) {
	if len(cfg.Addrs) < 2 {
		return nil, fmt.Errorf("cluster needs at least 2 addresses, got %d", len(cfg.Addrs))
	}
	if cfg.ID < 0 || cfg.ID >= len(cfg.Addrs) {
		return nil, fmt.Errorf("replica id %d out of range for %d addresses", cfg.ID, len(cfg.Addrs))
	}
	if cfg.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}

	r := &Replica{
		cfg:    cfg,
		log:    log.With().Int("replica", cfg.ID).Logger(),
		leader: cfg.ID == 0,
		db:     store.New(cfg.DBPath),
		sem:    make(chan struct{}, cfg.MaxConns),
		conns:  make(map[net.Conn]struct{}),
	}
	r.st = r.db.Load()

	for id := cfg.ID + 1; id < len(cfg.Addrs); id++ {
		r.followers = append(r.followers, &follower{id: id, addr: cfg.Addrs[id], alive: true})
	}

	metrics.SetLeader(cfg.ID, r.leader)
	metrics.SetLiveFollowers(cfg.ID, len(r.followers))

	r.log.Info().
		Bool("leader", r.leader).
		Int("followers", len(r.followers)).
		Int("accounts", len(r.st.Accounts)).
		Str("db", cfg.DBPath).
		Msg("replica initialized")
	return r, nil
}

// Start listens on this replica's configured address and begins serving.
func (r *Replica) Start() error {
	lis, err := net.Listen("tcp", r.cfg.Addrs[r.cfg.ID])
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Addrs[r.cfg.ID], err)
	}
	return r.Serve(lis)
}

// Serve begins accepting RPC connections on lis. It does not block; use
// Stop to shut the replica down.
func (r *Replica) Serve(lis net.Listener) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("AuthService", &AuthService{r: r}); err != nil {
		return fmt.Errorf("register auth service: %w", err)
	}
	if err := srv.RegisterName("ChatService", &ChatService{r: r}); err != nil {
		return fmt.Errorf("register chat service: %w", err)
	}

	r.lis = lis
	r.srv = srv
	r.wg.Add(1)
	go r.acceptLoop()

	r.log.Info().Str("addr", lis.Addr().String()).Msg("replica listening")
	return nil
}

// Stop closes the listener, severs open connections, and waits for in-flight
// handlers to drain. A stopped replica never comes back; restart means a new
// process (or a new Replica on the same db path).
func (r *Replica) Stop() {
	r.stopOnce.Do(func() {
		if r.lis != nil {
			r.lis.Close()
		}

		r.connsMu.Lock()
		r.closing = true
		for c := range r.conns {
			c.Close()
		}
		r.connsMu.Unlock()

		r.mu.Lock()
		for _, f := range r.followers {
			if f.client != nil {
				f.client.Close()
				f.client = nil
			}
		}
		r.mu.Unlock()

		r.wg.Wait()
		r.log.Info().Msg("replica stopped")
	})
}

// Addr reports the bound listen address, usable once Serve has returned.
func (r *Replica) Addr() string {
	if r.lis == nil {
		return ""
	}
	return r.lis.Addr().String()
}

// ID is the replica's chain position.
func (r *Replica) ID() int {
	return r.cfg.ID
}

// Status is a point-in-time view for the admin surface.
type Status struct {
	ID            int    `json:"id"`
	Leader        bool   `json:"leader"`
	Addr          string `json:"addr"`
	LiveFollowers []int  `json:"liveFollowers"`
	Accounts      int    `json:"accounts"`
}

// Status snapshots the replica's role and follower liveness.
func (r *Replica) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := make([]int, 0, len(r.followers))
	for _, f := range r.followers {
		if f.alive {
			live = append(live, f.id)
		}
	}
	return Status{
		ID:            r.cfg.ID,
		Leader:        r.leader,
		Addr:          r.Addr(),
		LiveFollowers: live,
		Accounts:      len(r.st.Accounts),
	}
}

func (r *Replica) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		r.trackConn(conn, true)
		r.wg.Add(1)
		go func(c net.Conn) {
			defer r.wg.Done()
			defer r.trackConn(c, false)

			// bounded handler pool: a full semaphore queues the connection
			r.sem <- struct{}{}
			defer func() { <-r.sem }()

			r.srv.ServeConn(c)
			c.Close()
		}(conn)
	}
}

func (r *Replica) trackConn(c net.Conn, add bool) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	if add {
		// a connection that races Stop is closed instead of tracked, so
		// ServeConn returns immediately and Stop's drain cannot hang
		if r.closing {
			c.Close()
			return
		}
		r.conns[c] = struct{}{}
	} else {
		delete(r.conns, c)
	}
}
