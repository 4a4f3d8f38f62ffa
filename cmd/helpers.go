package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/skillbank/credvault/internal/log"
	"github.com/skillbank/credvault/internal/vault"
)

// openVault opens the vault database from config: the master-key
// source (env or keyring), the KDF override for new envelopes, and the
// optional SQLCipher passphrase all come from the config file.
func openVault() (*vault.Service, error) {
	cfg := loadConfig()
	svc, err := vault.Open(cfg.DatabasePath, vault.Options{
		Key:    cfg.DatabaseKey,
		Source: cfg.KeySourceProvider(),
		KDF:    cfg.KDFConfig(),
		Logger: log.WithComponent("vault"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vault at %s: %w", cfg.DatabasePath, err)
	}
	return svc, nil
}

// readSecret prompts for a secret without echoing. Falls back to plain
// line reading when stdin is not a terminal (piped input).
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return line, nil
	}

	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(secret), nil
}

// readLine prompts and reads one echoed line from stdin.
func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// parseEntityType validates the --entity-type flag.
func parseEntityType(s string) (vault.EntityType, error) {
	switch vault.EntityType(s) {
	case vault.EntitySkill, vault.EntityTool:
		return vault.EntityType(s), nil
	default:
		return "", fmt.Errorf("invalid entity type %q (want skill or tool)", s)
	}
}

// parseAccessLevel validates the --level flag.
func parseAccessLevel(s string) (vault.AccessLevel, error) {
	level := vault.AccessLevel(s)
	if !level.Valid() {
		return "", fmt.Errorf("invalid access level %q (want read, write or admin)", s)
	}
	return level, nil
}

func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
