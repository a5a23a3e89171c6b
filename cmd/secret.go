package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newSecretCmd(opts *globalOptions, deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets bound by slipway.toml",
	}
	cmd.AddCommand(newSecretSetCmd(opts, deps))
	return cmd
}

func newSecretSetCmd(opts *globalOptions, deps *Dependencies) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set KEY",
		Short: "Store a secret for the resolved repository or globally",
		Long: `Store the value of KEY in the secret store.

Without --global the secret is scoped to the repository the state resolves to,
so it takes precedence over a global secret with the same key. The value is
read from the terminal without echo, or from stdin when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretSet(cmd, opts, deps, args[0], global)
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "Store the secret in the global scope")

	return cmd
}

func runSecretSet(cmd *cobra.Command, opts *globalOptions, deps *Dependencies, key string, global bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("secret key must not be empty")
	}

	s, err := openSession(cmd, opts, deps)
	if err != nil {
		return describeError(err)
	}
	defer s.close()

	store, err := s.secretStore()
	if err != nil {
		return err
	}

	stdin := deps.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	value, err := readSecret(stdin, s.stderr, key)
	if err != nil {
		return err
	}

	setter := deps.SecretSetterFactory(s.cfg, s.cache, store, s.log)
	scope, err := setter.Set(s.ctx, s.input, key, value, global)
	if err != nil {
		s.log.Error(s.ctx, "failed to store secret", err, map[string]interface{}{
			"key": key,
		})
		return describeError(err)
	}

	if _, err := fmt.Fprintf(s.stdout, "stored %s in %s\n", key, scope); err != nil {
		return fmt.Errorf("output error: %w", err)
	}
	return nil
}

// readSecret prompts for a value without echo on a terminal, or reads one
// line from in otherwise.
func readSecret(in io.Reader, prompt io.Writer, key string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		writeWarningf(prompt, "Value for %s: ", key)
		b, err := term.ReadPassword(int(f.Fd()))
		writeWarningf(prompt, "\n")
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return nonEmpty(string(b))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return nonEmpty(strings.TrimRight(line, "\r\n"))
}

func nonEmpty(value string) (string, error) {
	if value == "" {
		return "", errors.New("secret value must not be empty")
	}
	return value, nil
}
