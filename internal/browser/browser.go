// Package browser opens URLs in the system's default web browser.
package browser

import (
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

// Open launches the default browser on the given URL. Callers treat failure
// as non-fatal; the verification URL is always printed as well.
func Open(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return errors.Errorf("unsupported OS %q", runtime.GOOS)
	}
}
