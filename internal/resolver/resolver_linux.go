//go:build linux

package resolver

import (
	"fmt"
	"os/exec"
	"strings"
)

// lookupSecretStoreFn can be overridden in tests to bypass the real
// secret service.
var lookupSecretStoreFn = secretServiceLookup

func lookupSecretStore() (string, error) {
	return lookupSecretStoreFn()
}

// secretServiceLookup queries the freedesktop secret service via
// secret-tool (gnome-keyring / kwallet), then falls back to pass.
// Requires libsecret-tools on Debian/Ubuntu, libsecret on Fedora.
func secretServiceLookup() (string, error) {
	out, err := exec.Command("secret-tool", "lookup",
		"service", keychainService).Output()
	if err == nil {
		raw := strings.TrimSpace(string(out))
		if raw != "" {
			return raw, nil
		}
	}

	// Some setups route the CLI's storage through pass.
	out, passErr := exec.Command("pass", "show", keychainService).Output()
	if passErr == nil {
		raw := strings.TrimSpace(string(out))
		if raw != "" {
			return raw, nil
		}
	}

	if err == nil {
		err = fmt.Errorf("empty credential from secret-tool")
	}
	return "", fmt.Errorf("secret service lookup failed (install libsecret-tools): %w", err)
}
