package notify_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
	"github.com/oliverbravery/3D-Print-Sentinel/testutils/inject"
)

func TestServiceData(t *testing.T) {
	test.That(t, notify.ServiceData(notify.Notification{Message: "hello"}), test.ShouldResemble,
		map[string]interface{}{"message": "hello"})

	payload := notify.ServiceData(notify.Notification{
		Message: "An issue with your 3D print has been detected.",
		Title:   "3D Print Issue Detected",
		Image:   "/media/local/snapshot.jpg",
		Actions: []notify.Action{
			{ID: "STOP_PRINT_JOB", Title: "Stop Print"},
			{ID: "DISMISS_NOTIFICATION", Title: "Dismiss"},
		},
		Priority: notify.PriorityCritical,
		Tag:      "countdown",
	})
	test.That(t, payload, test.ShouldResemble, map[string]interface{}{
		"message": "An issue with your 3D print has been detected.",
		"title":   "3D Print Issue Detected",
		"data": map[string]interface{}{
			"image": "/media/local/snapshot.jpg",
			"actions": []map[string]interface{}{
				{"action": "STOP_PRINT_JOB", "title": "Stop Print"},
				{"action": "DISMISS_NOTIFICATION", "title": "Dismiss"},
			},
			"push": map[string]interface{}{"interruption-level": "critical"},
			"tag":  "countdown",
		},
	})
}

func TestHomeAssistantNotifier(t *testing.T) {
	logger := logging.NewTestLogger(t)

	type call struct {
		domain, service string
		data            map[string]interface{}
	}
	var calls []call
	api := &inject.HomeAssistant{
		CallServiceFunc: func(ctx context.Context, domain, service string, data map[string]interface{}) error {
			calls = append(calls, call{domain, service, data})
			return nil
		},
	}

	_, err := notify.NewHomeAssistant(api, "", logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = notify.NewHomeAssistant(api, "notify.", logger)
	test.That(t, err, test.ShouldNotBeNil)

	for _, service := range []string{"mobile_app_phone", "notify.mobile_app_phone", "notify/mobile_app_phone"} {
		calls = nil
		n, err := notify.NewHomeAssistant(api, service, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n.Send(context.Background(), notify.Notification{Message: "m", Title: "t"}), test.ShouldBeNil)
		test.That(t, calls, test.ShouldHaveLength, 1)
		test.That(t, calls[0].domain, test.ShouldEqual, "notify")
		test.That(t, calls[0].service, test.ShouldEqual, "mobile_app_phone")
		test.That(t, calls[0].data, test.ShouldResemble, map[string]interface{}{"message": "m", "title": "t"})
	}

	n, err := notify.NewHomeAssistant(api, notify.DefaultService, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n.Send(context.Background(), notify.Notification{Title: "empty"}), test.ShouldNotBeNil)

	api.CallServiceFunc = func(context.Context, string, string, map[string]interface{}) error {
		return errors.New("boom")
	}
	err = n.Send(context.Background(), notify.Notification{Message: "m", Title: "3D Print Stopped"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "3D Print Stopped")
}
