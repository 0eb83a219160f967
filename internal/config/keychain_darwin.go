//go:build darwin

package config

import "os/exec"

// lookupSecret reads a generic password from the login keychain. Store one
// with: security add-generic-password -s smartfile -a answer_api_key -w <key>
func lookupSecret(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}
