package base

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strings"

	"golang.org/x/term"

	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// Prompter requests a credential interactively. secret suppresses echo.
type Prompter func(label string, secret bool) (string, error)

// TerminalPrompter reads from the controlling terminal, hiding secret input
func TerminalPrompter(label string, secret bool) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	if secret {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read secret input: %w", err)
		}
		return string(b), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Username resolves the configured username. Prompt-configured values are
// requested exactly once per connector lifetime and cached; suppressed
// credentials resolve empty; an unset username falls back to the OS login
// name of the current process.
func (c *Connector) Username() (string, error) {
	if err := c.ensurePrepared(); err != nil {
		return "", err
	}
	switch c.username.Mode() {
	case core.CredentialValue:
		return c.username.Value(), nil
	case core.CredentialSuppress:
		return "", nil
	case core.CredentialPrompt:
		if !c.userPrompted {
			v, err := c.prompter(fmt.Sprintf("username for %s", c.name), false)
			if err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "username prompt failed")
			}
			c.promptedUser = v
			c.userPrompted = true
		}
		return c.promptedUser, nil
	default:
		u, err := user.Current()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeInternal, "cannot determine current user")
		}
		return u.Username, nil
	}
}

// Password resolves the configured password. Prompt-configured values are
// requested exactly once and cached; unset or suppressed passwords resolve
// empty.
func (c *Connector) Password() (string, error) {
	if err := c.ensurePrepared(); err != nil {
		return "", err
	}
	switch c.password.Mode() {
	case core.CredentialValue:
		return c.password.Value(), nil
	case core.CredentialPrompt:
		if !c.passPrompted {
			v, err := c.prompter(fmt.Sprintf("password for %s", c.name), true)
			if err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "password prompt failed")
			}
			c.promptedPass = v
			c.passPrompted = true
		}
		return c.promptedPass, nil
	default:
		return "", nil
	}
}
