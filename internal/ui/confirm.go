package ui

import (
	"errors"

	"github.com/charmbracelet/huh"
)

// ErrAborted is returned when the user declines a confirmation.
var ErrAborted = errors.New("aborted")

// Confirm asks a yes/no question. Without a terminal it never prompts and
// returns ErrAborted, so destructive commands need --yes in scripts.
func Confirm(title, description string) error {
	if !IsInteractive() {
		return errors.Join(ErrAborted, errors.New("not a terminal: pass --yes to confirm"))
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}
