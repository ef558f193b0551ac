package infrastructure

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/yourusername/debridget/internal/domain"
)

type recordedCommand struct {
	name string
	args []string
}

func newRecordingNotifier(cfg *domain.NotificationConfig, fail bool) (*NotificationService, *[]recordedCommand) {
	n := NewNotificationService(cfg, nil)
	var calls []recordedCommand
	n.run = func(name string, args ...string) error {
		calls = append(calls, recordedCommand{name: name, args: args})
		if fail {
			return errors.New("not installed")
		}
		return nil
	}
	return n, &calls
}

func TestNotification_Disabled(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: false, Method: "notify-send"}, false)

	assert.NoError(t, n.Send("t", "m"))
	assert.Empty(t, *calls)
}

func TestNotification_NotifySend(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: true, Method: "notify-send"}, false)
	job := domain.NewJob("j1", "torbox", domain.StatusCompleted, "magnet:?xt=abc", time.Now())
	job.Metadata["name"] = "Ubuntu ISO"

	n.NotifyJobCompleted(job)

	assert.Len(t, *calls, 1)
	assert.Equal(t, "notify-send", (*calls)[0].name)
	assert.Equal(t, []string{"Download Ready", "Ubuntu ISO (torbox)"}, (*calls)[0].args)
}

func TestNotification_OSAScriptEscapesQuotes(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: true, Method: "osascript"}, false)
	job := domain.NewFailedJob("mock", `bad "quote"`, "https://x/a", time.Now())

	n.NotifyJobFailed(job)

	assert.Len(t, *calls, 1)
	assert.Contains(t, (*calls)[0].args[1], `bad \"quote\"`)
}

func TestNotification_CommandFailure(t *testing.T) {
	n, _ := newRecordingNotifier(&domain.NotificationConfig{Enabled: true, Method: "notify-send"}, true)

	assert.Error(t, n.Send("t", "m"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
}
