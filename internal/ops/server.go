package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunqar-kz/qoldau/internal/channel"
	"github.com/sunqar-kz/qoldau/internal/domain"
	"github.com/sunqar-kz/qoldau/internal/logging"
	"github.com/sunqar-kz/qoldau/internal/report"
	"github.com/sunqar-kz/qoldau/internal/store"
	"github.com/sunqar-kz/qoldau/internal/version"
)

// AgentGateway exposes the human-agent operations of the dispatcher.
type AgentGateway interface {
	AgentReply(ctx context.Context, userID, text string) error
	Resolve(ctx context.Context, userID, note string) error
	Close(ctx context.Context, userID string) error
	Sessions() ([]domain.Session, error)
}

// Pinger is the storage liveness probe used by the health endpoint.
type Pinger interface {
	Ping() error
}

// Searcher queries archived transcripts.
type Searcher interface {
	Search(query string, limit int) ([]store.ArchiveHit, error)
}

// Server is the HTTP surface for operators: health, the agent console
// API, live alerts over WebSocket and period reports.
type Server struct {
	addr     string
	agent    AgentGateway
	db       Pinger
	archive  Searcher
	channels *channel.Registry
	reports  *report.Generator
	bus      *Bus
	log      *logging.Logger

	authToken string

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// SetAuthToken enables bearer-token auth on everything but /health.
// An empty token leaves the API open, for loopback deployments.
func (s *Server) SetAuthToken(token string) { s.authToken = token }

// NewServer creates the ops server. archive, channels and reports may be
// nil; the matching endpoints then report unavailable.
func NewServer(addr string, agent AgentGateway, db Pinger, archive Searcher, channels *channel.Registry, reports *report.Generator, bus *Bus, log *logging.Logger) *Server {
	return &Server{
		addr:     addr,
		agent:    agent,
		db:       db,
		archive:  archive,
		channels: channels,
		reports:  reports,
		bus:      bus,
		log:      log.Sub("ops-http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			// WebSocket clients cannot always set headers.
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/sessions/{user}/reply", s.handleReply)
	mux.HandleFunc("POST /api/sessions/{user}/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/sessions/{user}/close", s.handleClose)
	mux.HandleFunc("GET /api/archive/search", s.handleSearch)
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.HandleFunc("GET /ws/alerts", s.handleAlerts)
	mux.HandleFunc("/", handleNotFound)
	return s.withAuth(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.startedAt = time.Now()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("ops server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down ops server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the route table without starting a listener. Test seam.
func (s *Server) Handler() http.Handler { return s.routes() }

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
			return
		}
	}
	resp := healthResponse{Status: "ok", Version: version.Version}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.agent.Sessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

type agentActionRequest struct {
	Text string `json:"text,omitempty"`
	Note string `json:"note,omitempty"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var req agentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must carry a non-empty text field"))
		return
	}
	if err := s.agent.AgentReply(r.Context(), user, req.Text); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var req agentActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.agent.Resolve(r.Context(), user, req.Note); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Close(r.Context(), r.PathValue("user")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, errors.New("archive search not available"))
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing q parameter"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := s.archive.Search(query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		writeJSON(w, http.StatusOK, map[string]any{"channels": []domain.ChannelStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.channels.Status()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotImplemented, errors.New("reporting not available"))
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 7
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="support-report-%s.pdf"`, time.Now().Format("2006-01-02")))
	if _, err := s.reports.Generate(w, time.Duration(days)*24*time.Hour); err != nil {
		s.log.Error().Err(err).Msg("report generation failed")
	}
}

// handleAlerts streams bus events to the operator over a WebSocket.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsub := s.bus.Subscribe()
	defer unsub()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}
