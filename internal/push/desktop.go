package push

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier raises a native notification on the machine running
// the daemon. Used when no APNs credentials are configured.
type DesktopNotifier struct {
	goos    string
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewDesktopNotifier returns a notifier for the current OS.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{goos: runtime.GOOS, command: exec.CommandContext}
}

// Supported reports whether this OS has a notification command.
func (d *DesktopNotifier) Supported() bool {
	_, _, ok := desktopCommand(d.goos, Title, "")
	return ok
}

func (d *DesktopNotifier) Notify(ctx context.Context, body string) error {
	name, args, ok := desktopCommand(d.goos, sanitize(Title), sanitize(truncateBody(body)))
	if !ok {
		return fmt.Errorf("desktop notifications unsupported on %s", d.goos)
	}
	out, err := d.command(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func desktopCommand(goos, title, body string) (string, []string, bool) {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{title, body}, true
	case "windows":
		ps := fmt.Sprintf(`
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] > $null
$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$textNodes = $template.GetElementsByTagName('text')
$textNodes.Item(0).AppendChild($template.CreateTextNode('%s')) > $null
$textNodes.Item(1).AppendChild($template.CreateTextNode('%s')) > $null
$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('%s').Show($toast)
`, title, body, title)
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", ps}, true
	}
	return "", nil, false
}

// sanitize strips characters that would break the quoting of the
// PowerShell and AppleScript templates.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "'", "’")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
