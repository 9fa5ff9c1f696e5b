package iocli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio prints to out and reads secrets from in. When in is a terminal the
// input is not echoed.
type Stdio struct {
	in  io.Reader
	out io.Writer
}

// NewStdio returns an IO bound to the process standard streams.
func NewStdio() IO {
	return NewStream(os.Stdin, os.Stdout)
}

// NewStream returns an IO bound to arbitrary streams.
func NewStream(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{in: in, out: out}
}

func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

// ReadPassword prints prompt and reads one line.
func (s *Stdio) ReadPassword(prompt string) (string, error) {
	s.Printf("%s", prompt)

	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		s.Println()
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	// не терминал (pipe, тесты): читаем строку как есть
	line, err := bufio.NewReader(s.in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
