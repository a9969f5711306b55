// Package notify shows native OS notifications.
package notify

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

const appName = "MuaTool"

// Send displays a native OS notification.
// Falls back silently if the notification system is unavailable.
func Send(title, body string) {
	cmd := command(runtime.GOOS, sanitize(title), sanitize(body))
	if cmd == nil {
		return
	}
	if err := cmd.Run(); err != nil {
		slog.Default().With("component", "notify").Debug("notification failed", "error", err)
	}
}

func command(goos, title, body string) *exec.Cmd {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.Command("osascript", "-e", script)
	case "linux":
		return exec.Command("notify-send", "--app-name="+appName, title, body)
	case "windows":
		ps := fmt.Sprintf(`
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] > $null
$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$textNodes = $template.GetElementsByTagName('text')
$textNodes.Item(0).AppendChild($template.CreateTextNode('%s')) > $null
$textNodes.Item(1).AppendChild($template.CreateTextNode('%s')) > $null
$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('%s').Show($toast)
`, title, body, appName)
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", ps)
	}
	return nil
}

// sanitize removes characters that could break shell quoting.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "'", "’")
	s = strings.ReplaceAll(s, "\\", "")
	if r := []rune(s); len(r) > 256 {
		s = string(r[:256]) + "..."
	}
	return s
}

// Notifier sends notifications, dropping repeats of the same message within
// a short window. Each notification also goes to Observe when set.
type Notifier struct {
	// Observe receives every delivered notification, e.g. to mirror it to
	// the dashboard UI.
	Observe func(title, body string)

	send   func(title, body string)
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotifier returns a Notifier that suppresses duplicates sent within
// window of each other.
func NewNotifier(window time.Duration) *Notifier {
	return &Notifier{send: Send, window: window, last: make(map[string]time.Time)}
}

// Notify shows title and body. The OS call runs in the background.
func (n *Notifier) Notify(title, body string) {
	key := title + "\x00" + body
	now := time.Now()

	n.mu.Lock()
	if t, ok := n.last[key]; ok && now.Sub(t) < n.window {
		n.mu.Unlock()
		return
	}
	n.last[key] = now
	for k, t := range n.last {
		if now.Sub(t) >= n.window {
			delete(n.last, k)
		}
	}
	n.mu.Unlock()

	if n.Observe != nil {
		n.Observe(title, body)
	}
	go n.send(title, body)
}
