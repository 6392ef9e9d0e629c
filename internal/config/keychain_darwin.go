//go:build darwin

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

// platformKeychain stores secrets as generic passwords in the login
// keychain through the `security` tool.
type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("keychain item %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Set adds the item or updates it in place (-U).
func (platformKeychain) Set(service, account, value string) error {
	cmd := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("storing keychain item %s/%s: %w (%s)", service, account, err, strings.TrimSpace(string(out)))
	}
	return nil
}
