package homeassistant

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// NotificationActionEvent is fired by the companion app when a notification action is tapped.
const NotificationActionEvent = "mobile_app_notification_action"

// ErrAuthInvalid is returned when Home Assistant rejects the access token. Reconnecting will
// not help.
var ErrAuthInvalid = errors.New("home assistant rejected the access token")

// ActionHandler receives the action id and the full event data of a notification action.
type ActionHandler func(ctx context.Context, action string, payload map[string]interface{})

type wsMessage struct {
	ID        int             `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     *wsError        `json:"error,omitempty"`
	Event     *wsEvent        `json:"event,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEvent struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// EventSubscriber delivers notification actions from the Home Assistant websocket API. It
// reconnects with exponential backoff until its context is cancelled.
type EventSubscriber struct {
	wsURL   string
	token   string
	handler ActionHandler
	clock   clock.Clock
	logger  logging.Logger
	dialer  *websocket.Dialer

	mu        sync.Mutex
	connected bool
}

// NewEventSubscriber returns a subscriber for the instance the client talks to.
func NewEventSubscriber(client *Client, handler ActionHandler, clk clock.Clock, logger logging.Logger) *EventSubscriber {
	return &EventSubscriber{
		wsURL:   websocketURL(client.BaseURL()),
		token:   client.Token(),
		handler: handler,
		clock:   clk,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: DefaultTimeout},
	}
}

func websocketURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.JoinPath("/api/websocket").String()
}

// Connected reports whether a subscription is currently live.
func (s *EventSubscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *EventSubscriber) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

// Run subscribes and delivers actions until ctx is cancelled or the token is rejected.
func (s *EventSubscriber) Run(ctx context.Context) error {
	retry := newExponentialRetry(ctx, s.clock, s.logger, "websocket subscription", s.session)
	return retry.run()
}

// session runs one connection until it drops. A session that subscribed successfully and then
// dropped is reported as errSessionEnded so the backoff starts over.
func (s *EventSubscriber) session(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if resp != nil && resp.Body != nil {
		//nolint:errcheck,gosec
		resp.Body.Close()
	}
	if err != nil {
		return errors.Wrap(err, "dialing websocket")
	}
	defer func() {
		//nolint:errcheck,gosec
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck,gosec
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		//nolint:errcheck,gosec
		conn.Close()
	})
	defer stop()

	if err := s.authenticate(conn); err != nil {
		return err
	}
	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Infow("subscribed to notification actions", "url", s.wsURL)
	s.setConnected(true)
	defer s.setConnected(false)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warnw("websocket connection lost", "error", err)
			return errSessionEnded
		}
		if msg.Type != "event" || msg.Event == nil {
			continue
		}
		action := cast.ToString(msg.Event.Data["action"])
		if action == "" {
			continue
		}
		s.logger.Infow("received notification action", "action", action)
		s.handler(ctx, action, msg.Event.Data)
	}
}

func (s *EventSubscriber) authenticate(conn *websocket.Conn) error {
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return errors.Wrap(err, "reading auth greeting")
	}
	if msg.Type != "auth_required" {
		return errors.Errorf("unexpected greeting %q", msg.Type)
	}
	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: s.token}); err != nil {
		return errors.Wrap(err, "sending auth")
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return errors.Wrap(err, "reading auth result")
	}
	switch msg.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return errors.Wrap(ErrAuthInvalid, msg.Message)
	default:
		return errors.Errorf("unexpected auth result %q", msg.Type)
	}
}

func (s *EventSubscriber) subscribe(conn *websocket.Conn) error {
	const subscriptionID = 1
	if err := conn.WriteJSON(wsMessage{
		ID:        subscriptionID,
		Type:      "subscribe_events",
		EventType: NotificationActionEvent,
	}); err != nil {
		return errors.Wrap(err, "sending subscription")
	}
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "reading subscription result")
		}
		if msg.Type != "result" || msg.ID != subscriptionID {
			continue
		}
		if msg.Success == nil || !*msg.Success {
			if msg.Error != nil {
				return errors.Errorf("subscription refused: %s %s", msg.Error.Code, msg.Error.Message)
			}
			return errors.New("subscription refused")
		}
		return nil
	}
}
