package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/AMathur20/rss-to-kobo/internal/secret"
)

func passphraseCommand() *cli.Command {
	return &cli.Command{
		Name:  "passphrase",
		Usage: "manage the credential encryption passphrase",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "store the passphrase in the OS keyring",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					sess, err := setup(ctx, cmd)
					if err != nil {
						return err
					}
					defer sess.close()

					provider, err := secret.NewKeyringProvider(sess.cfg.Encryption.KeyringService, sess.cfg.Encryption.KeyringUser)
					if err != nil {
						return fmt.Errorf("keyring: %w", err)
					}

					passphrase, err := readPassphrase()
					if err != nil {
						return err
					}
					if err := provider.Store(ctx, passphrase); err != nil {
						return fmt.Errorf("storing passphrase: %w", err)
					}
					_, _ = fmt.Fprintln(os.Stdout, "Passphrase stored. Existing credentials encrypted with another passphrase must be re-created with `rsskobo login`.")
					return nil
				},
			},
		},
	}
}

// readPassphrase prompts twice without echo on a terminal, or reads one line from
// a pipe.
func readPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return nonEmpty(strings.TrimRight(line, "\r\n"))
	}

	_, _ = fmt.Fprint(os.Stderr, "New passphrase: ")
	first, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	_, _ = fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return nonEmpty(string(first))
}

func nonEmpty(passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	return passphrase, nil
}
