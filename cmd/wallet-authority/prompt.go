package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

const minPassphraseLen = 8

// keyringPassphrase returns the configured passphrase, or prompts for one when
// stdin is a terminal.
func keyringPassphrase(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("no keyring passphrase: set QA_WALLET_PASSPHRASE or run interactively")
	}
	return promptPassword(fd, "Keyring passphrase: ")
}

func promptPassword(fd int, prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(os.Stderr, prompt)

	pw, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)

	if err != nil {
		zeroBytes(pw)
		return nil, errors.Wrap(err, "password input failed")
	}
	if len(pw) < minPassphraseLen {
		zeroBytes(pw)
		return nil, errors.Newf("passphrase must be at least %d characters long", minPassphraseLen)
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	clear(b)
}
