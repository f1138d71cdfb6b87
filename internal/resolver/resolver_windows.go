//go:build windows

package resolver

import (
	"fmt"
	"os/exec"
	"strings"
)

// lookupSecretStoreFn can be overridden in tests.
var lookupSecretStoreFn = credentialManagerLookup

func lookupSecretStore() (string, error) {
	return lookupSecretStoreFn()
}

// credentialManagerLookup reads the CLI's entry from the Windows
// Credential Manager via PowerShell. Best effort: the CLI usually
// writes the fallback file on Windows, which the caller tries next.
func credentialManagerLookup() (string, error) {
	script := fmt.Sprintf(
		`(Get-StoredCredential -Target '%s' -AsCredentialObject).Password`, keychainService)
	out, err := exec.Command("powershell", "-NoProfile", "-NonInteractive",
		"-Command", script).Output()
	if err != nil {
		return "", fmt.Errorf("credential manager lookup failed: %w", err)
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return "", fmt.Errorf("empty credential from credential manager")
	}
	return raw, nil
}
