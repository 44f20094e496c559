// Package notify delivers an optional structured notification on a
// daemon's lifecycle transitions (on_ready / on_fail / retries
// exhausted), supplementing the shell-hook contract of spec.md §4.10
// with a second, fire-and-forget delivery path: a webhook POST or a
// desktop notification, without requiring the user to script either
// themselves.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/corralhq/corral/internal/daemon"
)

// Event names the daemon lifecycle transition a notification reports.
type Event string

const (
	EventReady           Event = "ready"
	EventFailed          Event = "failed"
	EventRetriesExhausted Event = "retries_exhausted"
)

// Config controls where notifications go. Both fields are optional; a
// zero Config disables Notifier entirely.
type Config struct {
	WebhookURL string
	Desktop    bool
}

// Notifier posts Config's configured sinks on demand.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New builds a Notifier. A nil logger uses slog's default.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// payload is the JSON body posted to WebhookURL.
type payload struct {
	Event     Event     `json:"event"`
	DaemonID  string    `json:"daemon_id"`
	Message   string    `json:"message"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notify fans out event for spec to every configured sink. Failures are
// logged, never returned — a broken webhook must not affect daemon
// supervision.
func (n *Notifier) Notify(event Event, spec daemon.DaemonSpec, message string, exitCode *int) {
	if n == nil {
		return
	}
	p := payload{
		Event:     event,
		DaemonID:  spec.ID.String(),
		Message:   message,
		ExitCode:  exitCode,
		Timestamp: now(),
	}
	if n.cfg.WebhookURL != "" {
		go n.postWebhook(p)
	}
	if n.cfg.Desktop {
		go n.postDesktop(p)
	}
}

func (n *Notifier) postWebhook(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Warn("notify: marshal webhook payload failed", "err", err)
		return
	}
	resp, err := n.client.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("notify: webhook post failed", "url", n.cfg.WebhookURL, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("notify: webhook returned non-2xx", "url", n.cfg.WebhookURL, "status", resp.StatusCode)
	}
}

func (n *Notifier) postDesktop(p payload) {
	cmd, args := desktopCommand(string(p.Event), p.DaemonID+": "+p.Message)
	if cmd == "" {
		return
	}
	if err := exec.Command(cmd, args...).Run(); err != nil {
		n.logger.Warn("notify: desktop notification failed", "err", err)
	}
}

// desktopCommand resolves the platform's desktop-notification CLI.
// Linux/BSD use notify-send; macOS uses osascript; other platforms have
// no supported notifier.
func desktopCommand(title, body string) (string, []string) {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send", []string{title, body}
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return "osascript", []string{"-e", script}
	default:
		return "", nil
	}
}

func now() time.Time { return time.Now() }
