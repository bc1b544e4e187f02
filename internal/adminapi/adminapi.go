package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/replchat/replchat/internal/cluster"
)

// Server exposes a replica's operational surface: liveness, cluster status,
// and prometheus metrics. It stays off unless an admin address is
// configured, so the replica's RPC contract is all a default deployment
// shows.
type Server struct {
	Replica *cluster.Replica
}

// Routes assembles the admin router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationMiddleware)
	r.Get("/healthz", s.Healthz)
	r.Get("/statusz", s.Statusz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// healthResponse is the healthz body.
type healthResponse struct {
	Status  string `json:"status"`
	Replica int    `json:"replica"`
	Leader  bool   `json:"leader"`
}

// Healthz reports process liveness plus the replica's current role.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	st := s.Replica.Status()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Replica: st.ID, Leader: st.Leader})
}

// Statusz dumps the full cluster view: role, bound address, follower
// liveness, account count.
func (s *Server) Statusz(w http.ResponseWriter, r *http.Request) {
	st := s.Replica.Status()
	log.Ctx(r.Context()).Debug().Int("replica", st.ID).Bool("leader", st.Leader).Msg("statusz requested")
	writeJSON(w, http.StatusOK, st)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}
