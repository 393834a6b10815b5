// Package mail delivers account emails. Production uses plain SMTP; when no
// SMTP host is configured the server falls back to logging the mail body,
// which keeps local development working without a relay.
package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

type Mailer interface {
	Send(to, subject, body string) error
}

type SMTPMailer struct {
	addr string // host:port
	auth smtp.Auth
	from string
}

func NewSMTP(host string, port int, username, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: auth,
		from: from,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg))
}

// LogMailer writes mails to the process log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(to, subject, body string) error {
	log.Printf("[Mail] to=%s subject=%q\n%s", to, subject, body)
	return nil
}
