package visualization

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// browserCommand returns the platform command that opens target.
func browserCommand(goos, target string) (*exec.Cmd, error) {
	switch goos {
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", target), nil
	case "darwin":
		return exec.Command("open", target), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// OpenBrowser opens a page served by this package in the default browser.
// Only http URLs on a loopback host are accepted.
func OpenBrowser(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", target, err)
	}
	if u.Scheme != "http" {
		return fmt.Errorf("refusing to open %q: only http URLs are served locally", target)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return fmt.Errorf("refusing to open %q: host is not local", target)
	}

	cmd, err := browserCommand(runtime.GOOS, u.String())
	if err != nil {
		return err
	}
	return cmd.Start()
}
