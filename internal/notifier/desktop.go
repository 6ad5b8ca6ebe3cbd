package notifier

import (
	"fmt"
	"log"
	"runtime"

	"github.com/go-toast/toast"
)

// DesktopNotifier shows a Windows toast when a handoff completes the
// workflow or escalates, per spec.md §4.7 step 5. Gated by
// runtime.GOOS exactly as ODSapper-CLIAIMONITOR's
// internal/notifications/terminal.go gates its ANSI title-setting: the
// call is safe to make unconditionally, it just becomes a no-op off
// Windows.
type DesktopNotifier struct {
	appID  string
	logger *log.Logger
}

// NewDesktopNotifier builds a desktop toast channel under the given
// app id (shown as the toast's source).
func NewDesktopNotifier(appID string, logger *log.Logger) *DesktopNotifier {
	if appID == "" {
		appID = "stop-gate"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DesktopNotifier{appID: appID, logger: logger}
}

// Supported reports whether toast notifications are available on this
// platform.
func (d *DesktopNotifier) Supported() bool {
	return runtime.GOOS == "windows"
}

// NotifyWorkflowComplete shows a toast when a project's workflow
// reaches its terminal phase.
func (d *DesktopNotifier) NotifyWorkflowComplete(project string) error {
	return d.show("Workflow complete", fmt.Sprintf("Project %q reached its terminal phase.", project))
}

// NotifyEscalation shows a toast when the router escalates instead of
// routing automatically.
func (d *DesktopNotifier) NotifyEscalation(project, reason string) error {
	return d.show("Workflow escalated", fmt.Sprintf("Project %q needs attention: %s", project, reason))
}

func (d *DesktopNotifier) show(title, message string) error {
	if !d.Supported() {
		d.logger.Printf("[wake-notifier] desktop toast skipped (unsupported on %s): %s", runtime.GOOS, title)
		return nil
	}

	notification := toast.Notification{
		AppID:   d.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	if err := notification.Push(); err != nil {
		d.logger.Printf("[wake-notifier] desktop toast failed: %v", err)
		return fmt.Errorf("notifier: desktop toast: %w", err)
	}
	return nil
}
