package main

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

var (
	spinnerMu     sync.Mutex
	activeSpinner *spinner.Spinner
)

// startSpinner shows a spinner on stderr while a blob store call runs. It is
// disabled for JSON output, verbose logging and non-terminal stderr. The
// returned function stops it and prints FinalMSG, if set.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")

	enabled := !jsonOutput && !verbose && term.IsTerminal(int(os.Stderr.Fd()))
	if enabled {
		spinnerMu.Lock()
		activeSpinner = s
		spinnerMu.Unlock()
		s.Start()
	}

	cleanup := func() {
		if s.FinalMSG != "" && !strings.HasSuffix(s.FinalMSG, "\n") {
			s.FinalMSG += "\n"
		}

		if enabled {
			spinnerMu.Lock()
			activeSpinner = nil
			spinnerMu.Unlock()
			s.Stop()
		} else if s.FinalMSG != "" && !jsonOutput {
			os.Stderr.WriteString(s.FinalMSG)
		}
	}

	return s, cleanup
}

func pauseSpinner() {
	spinnerMu.Lock()
	defer spinnerMu.Unlock()
	if activeSpinner != nil && activeSpinner.Active() {
		activeSpinner.Stop()
	}
}

func resumeSpinner() {
	spinnerMu.Lock()
	defer spinnerMu.Unlock()
	if activeSpinner != nil && !activeSpinner.Active() {
		activeSpinner.Start()
	}
}
