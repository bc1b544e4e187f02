package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are labeled by replica id so several in-process replicas (tests,
// single-host clusters) share one registry without stomping each other.
var (
	isLeader = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_cluster_is_leader",
		Help: "1 when this replica believes it is the leader",
	}, []string{"replica"})

	liveFollowers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_cluster_live_followers",
		Help: "Number of followers this replica still considers reachable",
	}, []string{"replica"})

	rpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rpc_requests_total",
		Help: "RPC requests handled, by method and outcome",
	}, []string{"replica", "method", "outcome"})

	replicationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_replication_failures_total",
		Help: "Forwards that timed out or failed, marking the follower dead",
	}, []string{"replica", "follower"})

	storeWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_store_writes_total",
		Help: "Durable snapshot writes",
	}, []string{"replica"})
)

func init() {
	prometheus.MustRegister(isLeader)
	prometheus.MustRegister(liveFollowers)
	prometheus.MustRegister(rpcRequests)
	prometheus.MustRegister(replicationFailures)
	prometheus.MustRegister(storeWrites)
}

// SetLeader records whether replica id currently acts as leader.
func SetLeader(id int, leader bool) {
	v := 0.0
	if leader {
		v = 1.0
	}
	isLeader.WithLabelValues(strconv.Itoa(id)).Set(v)
}

// SetLiveFollowers records how many followers replica id can still reach.
func SetLiveFollowers(id, n int) {
	liveFollowers.WithLabelValues(strconv.Itoa(id)).Set(float64(n))
}

// ObserveRPC counts one handled request. Rejected means the state machine
// said no (validation failure), not a transport problem.
func ObserveRPC(id int, method string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "rejected"
	}
	rpcRequests.WithLabelValues(strconv.Itoa(id), method, outcome).Inc()
}

// ReplicationFailure counts a forward that marked follower dead.
func ReplicationFailure(id, follower int) {
	replicationFailures.WithLabelValues(strconv.Itoa(id), strconv.Itoa(follower)).Inc()
}

// StoreWrite counts one snapshot flush.
func StoreWrite(id int) {
	storeWrites.WithLabelValues(strconv.Itoa(id)).Inc()
}
