package menu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers one line at a time. Secrets are read without echo
// when input is a terminal.
type Prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() ([]byte, error)
}

// NewPrompter creates a prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readSecret = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// Printf writes to the prompter's output.
func (p *Prompter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Line prints label and returns the trimmed answer. It returns io.EOF when
// input ends before a line was read.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Default asks for a value, returning def on an empty answer.
func (p *Prompter) Default(label, def string) (string, error) {
	prompt := label + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", label, def)
	}
	answer, err := p.Line(prompt)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Required asks until a non-empty answer is given.
func (p *Prompter) Required(label string) (string, error) {
	for {
		answer, err := p.Line(label + ": ")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(p.out, "A value is required.")
	}
}

// List asks for a comma-separated list, returning def on an empty answer.
func (p *Prompter) List(label string, def []string) ([]string, error) {
	answer, err := p.Default(label+" (comma-separated)", strings.Join(def, ","))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range strings.Split(answer, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// Int asks for a non-negative integer, returning def on an empty answer.
func (p *Prompter) Int(label string, def int) (int, error) {
	for {
		answer, err := p.Default(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 0 {
			return n, nil
		}
		fmt.Fprintf(p.out, "%q is not a non-negative number.\n", answer)
	}
}

// Confirm asks a yes/no question; anything but y or yes is no.
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Line(question + " ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Secret asks for a value without echo. An empty answer keeps current.
func (p *Prompter) Secret(label string, current string) (string, error) {
	prompt := label + ": "
	if current != "" {
		prompt = label + " [unchanged]: "
	}
	if p.readSecret == nil {
		answer, err := p.Line(prompt)
		if err != nil {
			return "", err
		}
		if answer == "" {
			return current, nil
		}
		return answer, nil
	}

	fmt.Fprint(p.out, prompt)
	b, err := p.readSecret()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	if answer := strings.TrimSpace(string(b)); answer != "" {
		return answer, nil
	}
	return current, nil
}
