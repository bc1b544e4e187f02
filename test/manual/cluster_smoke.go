//go:build ignore

package main

// Smoke test against a live cluster.
//
// Usage:
//   1. Start the replicas, e.g. on one host:
//        CHAT_DATA_DIR=/tmp/r2 chatd 2 127.0.0.1 127.0.0.2 127.0.0.3
//        CHAT_DATA_DIR=/tmp/r1 chatd 1 127.0.0.1 127.0.0.2 127.0.0.3
//        CHAT_DATA_DIR=/tmp/r0 chatd 0 127.0.0.1 127.0.0.2 127.0.0.3
//   2. Run: go run test/manual/cluster_smoke.go 127.0.0.1 127.0.0.2 127.0.0.3
//   3. Optionally kill replicas between runs and watch the script report
//      which replica answered.
//
// The script registers two throwaway users, exchanges a message, checks the
// mailbox and the directory, then deletes both accounts again.

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/replchat/replchat/internal/config"
	"github.com/replchat/replchat/internal/failover"
	"github.com/replchat/replchat/internal/wire"
)

func main() {
	ips, err := config.ParseClientArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Usage: go run test/manual/cluster_smoke.go <ip0> <ip1> <ip2>\n")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	client, err := failover.New(failover.Config{
		Addrs:   cfg.Addrs(ips),
		Timeout: cfg.RPCTimeout,
	})
	if err != nil {
		fmt.Printf("Error creating client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// fresh usernames per run so reruns never collide
	suffix := uuid.NewString()[:8]
	alice := "smoke-" + suffix + "-alice"
	bob := "smoke-" + suffix + "-bob"

	fmt.Printf("Probing cluster %s with users %s, %s\n\n", strings.Join(ips, ", "), alice, bob)

	st, err := client.Register(alice, "pw-alice")
	check("register "+alice, st, err)
	st, err = client.Register(bob, "pw-bob")
	check("register "+bob, st, err)
	st, err = client.Login(alice, "pw-alice")
	check("login "+alice, st, err)
	st, err = client.SendMessage(alice, bob, "smoke test ping")
	check("send "+alice+" -> "+bob, st, err)

	chats, err := client.ReceiveMessage(bob)
	if err != nil {
		fail("receive for "+bob, err)
	}
	want := fmt.Sprintf("From %s: smoke test ping", alice)
	if len(chats) == 0 || chats[len(chats)-1] != want {
		fmt.Printf("✗ FAILED - mailbox of %s = %q, want last entry %q\n", bob, chats, want)
		os.Exit(1)
	}
	fmt.Printf("✓ mailbox of %s holds %q\n", bob, want)

	users, err := client.GetUsers()
	if err != nil {
		fail("list users", err)
	}
	if !slices.Contains(users, alice) || !slices.Contains(users, bob) {
		fmt.Printf("✗ FAILED - directory %q missing probe users\n", users)
		os.Exit(1)
	}
	fmt.Printf("✓ directory lists both probe users (%d total)\n", len(users))

	st, err = client.DeleteAccount(alice, "pw-alice")
	check("delete "+alice, st, err)
	st, err = client.DeleteAccount(bob, "pw-bob")
	check("delete "+bob, st, err)

	fmt.Printf("\n✓ SUCCESS - all operations served by replica %d\n", client.Leader())
}

func check(step string, st wire.Status, err error) {
	if err != nil {
		fail(step, err)
	}
	if !st.Success {
		fmt.Printf("✗ FAILED - %s: %s\n", step, strings.TrimSpace(st.Message))
		os.Exit(1)
	}
	fmt.Printf("✓ %s\n", step)
}

func fail(step string, err error) {
	fmt.Printf("✗ FAILED - %s: %v\n", step, err)
	os.Exit(1)
}
