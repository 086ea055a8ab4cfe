package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/services/escalation"
	"github.com/oliverbravery/3D-Print-Sentinel/services/monitor"
	"github.com/oliverbravery/3D-Print-Sentinel/testutils"
)

type recordedAction struct {
	action  string
	payload map[string]interface{}
	ctxErr  error
}

type fakeEscalation struct {
	mu      sync.Mutex
	status  escalation.Status
	actions []recordedAction
}

func (f *fakeEscalation) Status() escalation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEscalation) OnExternalAction(ctx context.Context, action string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, recordedAction{action, payload, ctx.Err()})
	if action == escalation.ActionDismiss {
		f.status.Mode = escalation.Idle
	}
}

func (f *fakeEscalation) recorded() []recordedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedAction(nil), f.actions...)
}

type fakeMonitor struct {
	status monitor.Status
}

func (f *fakeMonitor) Status() monitor.Status { return f.status }

func newTestServer(t *testing.T, esc *fakeEscalation, opts Options) *Server {
	t.Helper()
	s, err := New(esc, &fakeMonitor{status: monitor.Status{LastDetections: -1}}, opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := New(nil, &fakeMonitor{}, Options{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(&fakeEscalation{}, nil, Options{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeEscalation{}, Options{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "application/json")
	test.That(t, rec.Body.String(), test.ShouldEqual, "{\"status\":\"ok\"}\n")

	s = newTestServer(t, &fakeEscalation{}, Options{EventsConnected: func() bool { return false }})
	rec = do(t, s, http.MethodGet, "/healthz", "")
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "\"events_connected\":false")

	rec = do(t, s, http.MethodPost, "/healthz", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusMethodNotAllowed)
}

func TestStatus(t *testing.T) {
	deadline := time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC)
	esc := &fakeEscalation{status: escalation.Status{
		Mode:        escalation.PendingStop,
		CountdownID: "c0ffee",
		Deadline:    deadline,
		Warnings:    1,
	}}
	s := newTestServer(t, esc, Options{})

	rec := do(t, s, http.MethodGet, "/status", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var resp StatusResponse
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp.Escalation.Mode, test.ShouldEqual, "pending_stop")
	test.That(t, resp.Escalation.CountdownID, test.ShouldEqual, "c0ffee")
	test.That(t, resp.Escalation.Deadline, test.ShouldNotBeNil)
	test.That(t, resp.Escalation.Deadline.Equal(deadline), test.ShouldBeTrue)
	test.That(t, resp.Escalation.Warnings, test.ShouldEqual, 1)
	test.That(t, resp.Monitor.LastDetections, test.ShouldEqual, -1)
	test.That(t, resp.Monitor.LastTick, test.ShouldBeNil)
	test.That(t, resp.EventsConnected, test.ShouldBeNil)

	esc.status = escalation.Status{}
	rec = do(t, s, http.MethodGet, "/status", "")
	test.That(t, rec.Body.String(), test.ShouldNotContainSubstring, "deadline")
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "\"mode\":\"idle\"")
}

func TestActions(t *testing.T) {
	esc := &fakeEscalation{status: escalation.Status{Mode: escalation.PendingStop}}
	s := newTestServer(t, esc, Options{})

	rec := do(t, s, http.MethodPost, "/actions/"+escalation.ActionDismiss, "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
	var resp ActionResponse
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp, test.ShouldResemble, ActionResponse{Action: escalation.ActionDismiss, Mode: "idle"})

	rec = do(t, s, http.MethodPost, "/actions/"+escalation.ActionStopPrintJob, `{"user":"desk"}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)

	recorded := esc.recorded()
	test.That(t, len(recorded), test.ShouldEqual, 2)
	test.That(t, recorded[0].action, test.ShouldEqual, escalation.ActionDismiss)
	test.That(t, recorded[0].payload, test.ShouldResemble, map[string]interface{}{"source": "web"})
	test.That(t, recorded[1].action, test.ShouldEqual, escalation.ActionStopPrintJob)
	test.That(t, recorded[1].payload, test.ShouldResemble, map[string]interface{}{"source": "web", "user": "desk"})

	t.Run("unknown action", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/actions/PAUSE", "")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
		var errResp ErrorResponse
		test.That(t, json.Unmarshal(rec.Body.Bytes(), &errResp), test.ShouldBeNil)
		test.That(t, errResp.Code, test.ShouldEqual, "UNKNOWN_ACTION")
		test.That(t, len(esc.recorded()), test.ShouldEqual, 2)
	})

	t.Run("bad body", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/actions/"+escalation.ActionDismiss, "[1, 2")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
		test.That(t, len(esc.recorded()), test.ShouldEqual, 2)
	})

	t.Run("null body", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/actions/"+escalation.ActionDismiss, "null")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
		recorded := esc.recorded()
		test.That(t, len(recorded), test.ShouldEqual, 3)
		test.That(t, recorded[2].payload, test.ShouldResemble, map[string]interface{}{"source": "web"})
	})

	t.Run("get is not routed", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/actions/"+escalation.ActionDismiss, "")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusMethodNotAllowed)
	})
}

func TestActionOutlivesRequest(t *testing.T) {
	esc := &fakeEscalation{}
	s := newTestServer(t, esc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/actions/"+escalation.ActionStopPrintJob, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)

	recorded := esc.recorded()
	test.That(t, len(recorded), test.ShouldEqual, 1)
	test.That(t, recorded[0].ctxErr, test.ShouldBeNil)
}

func TestActionAuth(t *testing.T) {
	post := func(s *Server, header map[string]string) int {
		req := httptest.NewRequest(http.MethodPost, "/actions/"+escalation.ActionStopPrintJob, strings.NewReader("{}"))
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("no token refuses browsers", func(t *testing.T) {
		esc := &fakeEscalation{}
		s := newTestServer(t, esc, Options{})
		test.That(t, post(s, map[string]string{"Origin": "http://evil.example"}), test.ShouldEqual, http.StatusUnauthorized)
		test.That(t, post(s, nil), test.ShouldEqual, http.StatusAccepted)
		test.That(t, len(esc.recorded()), test.ShouldEqual, 1)
	})

	t.Run("token required", func(t *testing.T) {
		esc := &fakeEscalation{}
		s := newTestServer(t, esc, Options{Token: "s3cret"})
		test.That(t, post(s, nil), test.ShouldEqual, http.StatusUnauthorized)
		test.That(t, post(s, map[string]string{"Authorization": "Bearer wrong"}), test.ShouldEqual, http.StatusUnauthorized)
		test.That(t, post(s, map[string]string{"Authorization": "s3cret"}), test.ShouldEqual, http.StatusUnauthorized)
		test.That(t, len(esc.recorded()), test.ShouldEqual, 0)

		test.That(t, post(s, map[string]string{"Authorization": "Bearer s3cret"}), test.ShouldEqual, http.StatusAccepted)
		test.That(t, post(s, map[string]string{
			"Authorization": "Bearer s3cret",
			"Origin":        "http://dashboard.local",
		}), test.ShouldEqual, http.StatusAccepted)
		test.That(t, len(esc.recorded()), test.ShouldEqual, 2)
	})

	t.Run("status stays open", func(t *testing.T) {
		s := newTestServer(t, &fakeEscalation{}, Options{Token: "s3cret"})
		rec := do(t, s, http.MethodGet, "/status", "")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	})
}

func TestActionRateLimit(t *testing.T) {
	esc := &fakeEscalation{}
	s := newTestServer(t, esc, Options{ActionsPerMinute: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/actions/"+escalation.ActionDismiss, "")
		test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
	}
	rec := do(t, s, http.MethodPost, "/actions/"+escalation.ActionDismiss, "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusTooManyRequests)
	test.That(t, len(esc.recorded()), test.ShouldEqual, 2)

	// status is never limited
	rec = do(t, s, http.MethodGet, "/status", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeEscalation{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")

	req = httptest.NewRequest(http.MethodOptions, "/actions/"+escalation.ActionDismiss, nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNoContent)
	test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")
}

func TestServeListener(t *testing.T) {
	s := newTestServer(t, &fakeEscalation{}, Options{})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	url := "http://" + listener.Addr().String() + "/healthz"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.ServeListener(ctx, listener)
	}()

	test.That(t, testutils.WaitSuccessfulDial(listener.Addr().String()), test.ShouldBeNil)
	resp, err := http.Get(url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}
