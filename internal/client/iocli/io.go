package iocli

//go:generate moq -out io_mock.go . IO

// IO is the terminal the command line client talks through.
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadPassword(prompt string) (string, error)
}
