package cluster

import (
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/replchat/replchat/internal/metrics"
	"github.com/replchat/replchat/internal/state"
	"github.com/replchat/replchat/internal/wire"
)

// applyMutation is the spine of every mutating RPC: promote if a client
// reached a follower, forward to live followers while still leader, apply
// locally, persist on success. The whole sequence holds the write lock so
// mutations serialize per replica.
//
// fwd must be the same request with IsClient forced to false; apply runs the
// state transition and yields the reply.
func (r *Replica) applyMutation(method string, isClient bool, fwd any, apply func(*state.State) wire.Status) wire.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.promoteLocked(isClient)
	if r.leader {
		r.replicateLocked(method, fwd)
	}

	st := apply(r.st)
	if st.Success {
		r.persistLocked()
	}
	metrics.ObserveRPC(r.cfg.ID, method, st.Success)
	return st
}

// readOnly answers locally under the shared lock. Reads are never forwarded
// and never persisted, and they do not trigger promotion.
func (r *Replica) readOnly(method string, read func(*state.State) wire.Status) wire.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := read(r.st)
	metrics.ObserveRPC(r.cfg.ID, method, st.Success)
	return st
}

// promoteLocked flips a follower to leader when a client request reaches it
// directly: clients walk ids upward, so being addressed as leader means
// every lower id is gone.
func (r *Replica) promoteLocked(isClient bool) {
	if !isClient || r.leader {
		return
	}
	r.leader = true
	metrics.SetLeader(r.cfg.ID, true)
	r.log.Info().Msg("promoted to leader")
}

// replicateLocked forwards one mutation to every live follower in ascending
// id order. Replication is fire-and-forget: a timeout or transport error
// marks the follower dead for the rest of this process's life and the
// client's request still succeeds.
func (r *Replica) replicateLocked(method string, fwd any) {
	for _, f := range r.followers {
		if !f.alive {
			continue
		}
		if err := r.forward(f, method, fwd); err != nil {
			f.alive = false
			if f.client != nil {
				f.client.Close()
				f.client = nil
			}
			metrics.ReplicationFailure(r.cfg.ID, f.id)
			metrics.SetLiveFollowers(r.cfg.ID, r.liveFollowersLocked())
			r.log.Warn().Err(err).Int("follower", f.id).Str("method", method).Msg("follower marked dead")
		}
	}
}

// forward invokes method on one follower with the configured deadline,
// dialing on first use. Mutating RPCs all reply with wire.Status.
func (r *Replica) forward(f *follower, method string, fwd any) error {
	if f.client == nil {
		conn, err := net.DialTimeout("tcp", f.addr, r.cfg.RPCTimeout)
		if err != nil {
			return fmt.Errorf("dial %s: %w", f.addr, err)
		}
		f.client = rpc.NewClient(conn)
	}

	var resp wire.Status
	call := f.client.Go(method, fwd, &resp, nil)
	select {
	case <-call.Done:
		if call.Error != nil {
			return fmt.Errorf("forward %s: %w", method, call.Error)
		}
		return nil
	case <-time.After(r.cfg.RPCTimeout):
		return fmt.Errorf("forward %s: deadline exceeded after %s", method, r.cfg.RPCTimeout)
	}
}

// persistLocked flushes the state machine to disk before the reply leaves
// this replica. Losing the write would break "reply implies persisted", so
// a failed flush takes the whole replica down.
func (r *Replica) persistLocked() {
	if err := r.db.Save(r.st); err != nil {
		r.log.Fatal().Err(err).Str("path", r.db.Path()).Msg("snapshot write failed")
	}
	metrics.StoreWrite(r.cfg.ID)
}

func (r *Replica) liveFollowersLocked() int {
	n := 0
	for _, f := range r.followers {
		if f.alive {
			n++
		}
	}
	return n
}
