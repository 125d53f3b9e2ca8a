// Package smtp подключается к почтовому серверу по STARTTLS.
package smtp

import "io"

// Client минимальный набор команд SMTP, нужный для отправки одного письма.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}
