package main

import "github.com/charmbracelet/huh"

// huhConfirm asks a yes/no question on the terminal.
func huhConfirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}
