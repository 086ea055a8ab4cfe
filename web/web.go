// Package web serves the local status and action surface of the sentinel.
//
// It is a small JSON API next to the Home Assistant event stream: the same notification actions
// can be posted here, which is how a dashboard or a shell script dismisses a warning without a
// phone.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/services/escalation"
	"github.com/oliverbravery/3D-Print-Sentinel/services/monitor"
)

// DefaultActionsPerMinute bounds POST /actions when no limit is configured.
const DefaultActionsPerMinute = 30

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxPayloadBytes   = 64 << 10
)

// Escalation is the part of the escalation machine the web surface reads and drives.
type Escalation interface {
	Status() escalation.Status
	OnExternalAction(ctx context.Context, action string, payload map[string]interface{})
}

// MonitorStatus reports what the poll loop has seen.
type MonitorStatus interface {
	Status() monitor.Status
}

// Options configures a Server.
type Options struct {
	BindAddress      string
	ActionsPerMinute int
	// Token, when set, must be sent as a bearer token with every action. Without a token,
	// actions from browsers (requests carrying an Origin header) are refused.
	Token string
	// EventsConnected, when set, is reported by /healthz and /status.
	EventsConnected func() bool
}

// Server is the local HTTP surface.
type Server struct {
	escalation Escalation
	monitor    MonitorStatus
	opts       Options
	limiter    *rate.Limiter
	logger     logging.Logger
	handler    http.Handler
}

// New returns a Server. It does not listen until Serve is called.
func New(esc Escalation, mon MonitorStatus, opts Options, logger logging.Logger) (*Server, error) {
	if esc == nil {
		return nil, errors.New("web server needs an escalation machine")
	}
	if mon == nil {
		return nil, errors.New("web server needs a monitor")
	}
	perMinute := opts.ActionsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultActionsPerMinute
	}
	s := &Server{
		escalation: esc,
		monitor:    mon,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:     logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/actions/{action}", s.handleAction).Methods(http.MethodPost)
	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
	return s, nil
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the bind address until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %q", s.opts.BindAddress)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener is Serve on an existing listener. The listener is closed on return.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Infow("serving local web surface", "address", listener.Addr().String())

	serveErr := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		serveErr <- srv.Serve(listener)
	})

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down web surface")
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status          string `json:"status"`
	EventsConnected *bool  `json:"events_connected,omitempty"`
}

// EscalationStatus is the escalation part of GET /status.
type EscalationStatus struct {
	Mode        string     `json:"mode"`
	CountdownID string     `json:"countdown_id,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Warnings    uint64     `json:"warnings"`
	Dismissals  uint64     `json:"dismissals"`
	Stops       uint64     `json:"stops"`
}

// MonitorStatusResponse is the monitor part of GET /status.
type MonitorStatusResponse struct {
	Printing       bool       `json:"printing"`
	Ticks          uint64     `json:"ticks"`
	FrameFailures  uint64     `json:"frame_failures"`
	LastTick       *time.Time `json:"last_tick,omitempty"`
	LastDetections int64      `json:"last_detections"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Escalation      EscalationStatus      `json:"escalation"`
	Monitor         MonitorStatusResponse `json:"monitor"`
	EventsConnected *bool                 `json:"events_connected,omitempty"`
}

// ActionResponse is the body of an accepted action.
type ActionResponse struct {
	Action string `json:"action"`
	Mode   string `json:"mode"`
}

func (s *Server) eventsConnected() *bool {
	if s.opts.EventsConnected == nil {
		return nil
	}
	connected := s.opts.EventsConnected()
	return &connected
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, healthResponse{Status: "ok", EventsConnected: s.eventsConnected()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	esc := s.escalation.Status()
	mon := s.monitor.Status()
	resp := StatusResponse{
		Escalation: EscalationStatus{
			Mode:        esc.Mode.String(),
			CountdownID: esc.CountdownID,
			Warnings:    esc.Warnings,
			Dismissals:  esc.Dismissals,
			Stops:       esc.Stops,
		},
		Monitor: MonitorStatusResponse{
			Printing:       mon.Printing,
			Ticks:          mon.Ticks,
			FrameFailures:  mon.FrameFailures,
			LastDetections: mon.LastDetections,
		},
		EventsConnected: s.eventsConnected(),
	}
	if !esc.Deadline.IsZero() {
		deadline := esc.Deadline.UTC()
		resp.Escalation.Deadline = &deadline
	}
	if !mon.LastTick.IsZero() {
		lastTick := mon.LastTick.UTC()
		resp.Monitor.LastTick = &lastTick
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	if action != escalation.ActionStopPrintJob && action != escalation.ActionDismiss {
		s.sendError(w, "UNKNOWN_ACTION", "unknown action "+action, http.StatusNotFound)
		return
	}
	if !s.authorized(r) {
		s.logger.Warnw("rejecting unauthorized action", "action", action, "remote", r.RemoteAddr)
		s.sendError(w, "UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized)
		return
	}
	if !s.limiter.Allow() {
		s.logger.Warnw("rejecting action, rate limit exceeded", "action", action, "remote", r.RemoteAddr)
		s.sendError(w, "RATE_LIMITED", "too many actions, try again later", http.StatusTooManyRequests)
		return
	}

	payload := map[string]interface{}{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.sendError(w, "BAD_REQUEST", "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.sendError(w, "BAD_REQUEST", "body must be a JSON object", http.StatusBadRequest)
			return
		}
	}
	// a literal null decodes to a nil map
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["source"] = "web"

	// the stop press outlives the request
	s.escalation.OnExternalAction(context.WithoutCancel(r.Context()), action, payload)
	s.sendJSON(w, http.StatusAccepted, ActionResponse{
		Action: action,
		Mode:   s.escalation.Status().Mode.String(),
	})
}

// authorized checks the bearer token. Without a configured token only requests that carry no
// Origin header are accepted.
func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Token == "" {
		return r.Header.Get("Origin") == ""
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) == 1
}

func (s *Server) sendError(w http.ResponseWriter, code, message string, status int) {
	s.sendJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("failed to write response", "error", err)
	}
}
