package escalation

import (
	"fmt"
	"time"

	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
)

// Action ids carried by notification buttons and the action webhook.
const (
	ActionStopPrintJob = "STOP_PRINT_JOB"
	ActionDismiss      = "DISMISS_NOTIFICATION"
)

// Notification titles.
const (
	TitleDetected  = "3D Print Issue Detected"
	TitleDismissed = "3D Print Issue Dismissed"
	TitleStopped   = "3D Print Stopped"
)

func warningNotification(delay time.Duration, image, tag string) notify.Notification {
	return notify.Notification{
		Message: fmt.Sprintf(
			"An issue with your 3D print has been detected. The print will be stopped in %s if not dismissed.",
			humanDuration(delay)),
		Title: TitleDetected,
		Image: image,
		Actions: []notify.Action{
			{ID: ActionStopPrintJob, Title: "Stop Print"},
			{ID: ActionDismiss, Title: "Dismiss"},
		},
		Priority: notify.PriorityCritical,
		Tag:      tag,
	}
}

func dismissedNotification(tag string) notify.Notification {
	return notify.Notification{
		Message: "The 3D print issue has been dismissed.",
		Title:   TitleDismissed,
		Tag:     tag,
	}
}

func stoppedNotification(tag string) notify.Notification {
	return notify.Notification{
		Message: "The 3D print has been stopped due to an issue.",
		Title:   TitleStopped,
		Tag:     tag,
	}
}

// humanDuration renders whole minutes as minutes and anything else as seconds.
func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	if d >= time.Minute && d%time.Minute == 0 {
		return plural(int64(d/time.Minute), "minute")
	}
	return plural(int64(d.Round(time.Second)/time.Second), "second")
}
