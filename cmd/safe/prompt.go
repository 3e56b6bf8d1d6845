package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/TheMichaelB/safe/internal/models"
)

var (
	stdinReader     *bufio.Reader
	stdinReaderOnce sync.Once
)

func stdin() *bufio.Reader {
	stdinReaderOnce.Do(func() {
		stdinReader = bufio.NewReader(os.Stdin)
	})
	return stdinReader
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && !jsonOutput
}

// passphraseSource is handed to the crypto session. It is called at most
// once per process.
func passphraseSource() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", models.NeedInput(models.InputPassphrase, "identity is passphrase-protected and stdin is not a terminal")
	}
	pauseSpinner()
	defer resumeSpinner()
	return promptPassword("Passphrase for identity: ")
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	line, err := stdin().ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func promptYesNo(prompt string, def bool) (bool, error) {
	suffix := " [y/N]: "
	if def {
		suffix = " [Y/n]: "
	}

	answer, err := promptLine(prompt + suffix)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("answer %q is not yes or no", answer)
	}
}

// promptRequired asks for a value until a non-empty answer is given.
func promptRequired(prompt string, secret bool) (string, error) {
	for {
		var (
			value string
			err   error
		)
		if secret {
			value, err = promptPassword(prompt)
		} else {
			value, err = promptLine(prompt)
		}
		if err != nil {
			return "", err
		}
		if value != "" {
			return value, nil
		}
		printWarning("A value is required.")
	}
}
