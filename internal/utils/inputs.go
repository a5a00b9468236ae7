package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PromptYesNoWithReader asks until the answer is yes or no. End of input means no.
func PromptYesNoWithReader(prompt string, reader io.Reader, writer io.Writer) bool {
	scanner := bufio.NewScanner(reader)

	for {
		_, _ = fmt.Fprintf(writer, "%s (y/n): ", prompt)
		if !scanner.Scan() {
			return false
		}

		input := strings.TrimSpace(strings.ToLower(scanner.Text()))

		switch input {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}

// ReadStringWithReader reads a trimmed line from a reader.
func ReadStringWithReader(reader io.Reader) (string, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		return "", errors.New("no input")
	}

	return strings.TrimSpace(scanner.Text()), nil
}
