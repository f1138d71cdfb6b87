//go:build darwin

package resolver

import (
	"fmt"
	"os/exec"
	"os/user"
	"strings"
)

// lookupSecretStoreFn can be overridden in tests to bypass the real
// Keychain lookup.
var lookupSecretStoreFn = keychainLookup

func lookupSecretStore() (string, error) {
	return lookupSecretStoreFn()
}

// keychainLookup retrieves the credentials blob the CLI stored in the
// macOS Keychain. The account is the current OS username; the password
// is a JSON blob with the full credentials structure.
func keychainLookup() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("cannot determine current user: %w", err)
	}

	out, err := exec.Command("security", "find-generic-password",
		"-s", keychainService, "-a", u.Username, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("security command failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
