// Package notify sends notifications to the Home Assistant companion app.
package notify

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// DefaultService is the notify service that reaches every registered device.
const DefaultService = "notify"

// Priority is the delivery priority hint passed to the phone.
type Priority string

// Known priorities. The zero value leaves the device default.
const (
	PriorityDefault       Priority = ""
	PriorityPassive       Priority = "passive"
	PriorityActive        Priority = "active"
	PriorityTimeSensitive Priority = "time-sensitive"
	PriorityCritical      Priority = "critical"
)

// An Action is a button shown on the notification. Tapping it fires a notification action event
// carrying ID.
type Action struct {
	ID    string
	Title string
}

// A Notification is one message to deliver.
type Notification struct {
	Message string
	Title   string
	// Image is a media reference the companion app can load, e.g. /media/local/snapshot.jpg.
	Image    string
	Actions  []Action
	Priority Priority
	// Tag makes a later notification with the same tag replace this one on the device.
	Tag string
}

// A Notifier delivers notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type hassNotifier struct {
	api     homeassistant.API
	service string
	logger  logging.Logger
}

// NewHomeAssistant returns a Notifier calling notify.<service>. service may be given with or
// without the "notify." prefix.
func NewHomeAssistant(api homeassistant.API, service string, logger logging.Logger) (Notifier, error) {
	service = strings.TrimPrefix(strings.TrimPrefix(service, "notify/"), "notify.")
	if service == "" {
		return nil, errors.New("notify service is required")
	}
	return &hassNotifier{api: api, service: service, logger: logger}, nil
}

func (n *hassNotifier) Send(ctx context.Context, note Notification) error {
	if note.Message == "" {
		return errors.New("notification has no message")
	}
	if err := n.api.CallService(ctx, "notify", n.service, ServiceData(note)); err != nil {
		return errors.Wrapf(err, "sending %q", note.Title)
	}
	n.logger.CDebugw(ctx, "sent notification", "service", n.service, "title", note.Title)
	return nil
}

// ServiceData builds the notify service payload for a notification.
func ServiceData(note Notification) map[string]interface{} {
	payload := map[string]interface{}{"message": note.Message}
	if note.Title != "" {
		payload["title"] = note.Title
	}

	data := map[string]interface{}{}
	if note.Image != "" {
		data["image"] = note.Image
	}
	if len(note.Actions) > 0 {
		actions := make([]map[string]interface{}, 0, len(note.Actions))
		for _, a := range note.Actions {
			actions = append(actions, map[string]interface{}{"action": a.ID, "title": a.Title})
		}
		data["actions"] = actions
	}
	if note.Priority != PriorityDefault {
		data["push"] = map[string]interface{}{"interruption-level": string(note.Priority)}
	}
	if note.Tag != "" {
		data["tag"] = note.Tag
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	return payload
}
