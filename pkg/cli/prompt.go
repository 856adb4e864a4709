package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pgrab/pgrab/pkg/config"
)

var ErrInvalidChoice = errors.New("invalid choice")

// Prompter collects a batch interactively.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// readLine returns the next trimmed line, or io.EOF once input is exhausted.
func (p *Prompter) readLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// ReadURLs reads URLs until an empty line or the end of input.
func (p *Prompter) ReadURLs() ([]string, error) {
	fmt.Fprintln(p.out, "Enter URLs (empty line to finish):")
	var urls []string
	for {
		line, err := p.readLine("URL: ")
		if errors.Is(err, io.EOF) || (err == nil && line == "") {
			return urls, nil
		}
		if err != nil {
			return nil, err
		}
		urls = append(urls, line)
	}
}

// ReadMode asks for one of "1", "2" or "3". Any other answer is ErrInvalidChoice.
func (p *Prompter) ReadMode() (string, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Choose download mode:")
	fmt.Fprintln(p.out, "1 - Sequential")
	fmt.Fprintln(p.out, "2 - Parallel")
	fmt.Fprintln(p.out, "3 - Advanced (multiple connections per file)")
	choice, err := p.readLine("Your choice: ")
	if err != nil {
		return "", err
	}
	switch choice {
	case "1", "2", "3":
		return choice, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
}

// ReadConnections asks for a connection count until a valid one is given.
func (p *Prompter) ReadConnections() (int, error) {
	prompt := fmt.Sprintf("Number of connections per file (%d-%d): ", config.MinConnections, config.MaxConnections)
	for {
		line, err := p.readLine(prompt)
		if err != nil {
			return 0, err
		}
		connections, err := strconv.Atoi(line)
		if err != nil {
			fmt.Fprintln(p.out, "Invalid input, please enter a number.")
			continue
		}
		if config.ValidateConnections(connections) != nil {
			fmt.Fprintf(p.out, "Please enter a number between %d and %d.\n", config.MinConnections, config.MaxConnections)
			continue
		}
		return connections, nil
	}
}
