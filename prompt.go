package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errNoSelection is returned when input ends before a valid choice is made.
var errNoSelection = errors.New("no selection made")

// selectOption prints a numbered list of options and reads choices from in
// until a valid number is entered. Successive prompts of one command must
// share the same reader so buffered answers are not lost.
func selectOption(in *bufio.Reader, out io.Writer, title string, options []string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("nothing to select for %s", title)
	}

	fmt.Fprintf(out, "\n%s:\n", title)
	for i, option := range options {
		fmt.Fprintf(out, "  %d. %s\n", i+1, option)
	}

	for {
		fmt.Fprintf(out, "Enter a number (1-%d): ", len(options))
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		eof := err != nil

		choice, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil || choice < 1 || choice > len(options) {
			if eof {
				return "", errNoSelection
			}
			fmt.Fprintln(out, "❌ Invalid selection. Please try again.")
			continue
		}
		fmt.Fprintf(out, "✓ Selected: %s\n", options[choice-1])
		return options[choice-1], nil
	}
}
