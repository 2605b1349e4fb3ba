// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SMTP defaults applied by NewSMTPSender.
const (
	DefaultSMTPPort    = 587
	DefaultSMTPTimeout = 30 * time.Second
)

// Sender submits a rendered message to a mail transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	FromAddress string
	FromName    string

	// Timeout bounds one delivery when ctx has no earlier deadline.
	Timeout time.Duration
}

// SMTPSender delivers messages over SMTP, upgrading with STARTTLS when the
// server offers it. Authentication is used only when Username is set.
type SMTPSender struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPSender validates cfg and creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("SMTP_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultSMTPPort
	}
	if _, err := mail.ParseAddress(cfg.FromAddress); err != nil {
		return nil, oops.Code("SMTP_CONFIG_INVALID").
			With("from_address", cfg.FromAddress).
			Wrap(err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	return &SMTPSender{cfg: cfg, now: time.Now}, nil
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	errb := oops.Code("SMTP_SEND_FAILED").With("addr", addr)

	body, err := buildMessage(s.cfg.FromName, s.cfg.FromAddress, msg, s.now())
	if err != nil {
		return errb.With("operation", "build message").Wrap(err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errb.With("operation", "dial").Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // fresh connection
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // handshake error takes precedence
		return errb.With("operation", "handshake").Wrap(err)
	}
	defer c.Close() //nolint:errcheck // Quit below reports the useful error

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return errb.With("operation", "starttls").Wrap(err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return errb.With("operation", "auth").Wrap(err)
		}
	}

	if err := c.Mail(s.cfg.FromAddress); err != nil {
		return errb.With("operation", "mail from").Wrap(err)
	}
	if err := c.Rcpt(msg.ToAddress); err != nil {
		return errb.With("operation", "rcpt to").Wrap(err)
	}
	w, err := c.Data()
	if err != nil {
		return errb.With("operation", "data").Wrap(err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close() //nolint:errcheck // write error takes precedence
		return errb.With("operation", "write body").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return errb.With("operation", "end data").Wrap(err)
	}
	if err := c.Quit(); err != nil {
		return errb.With("operation", "quit").Wrap(err)
	}
	return nil
}

// buildMessage encodes msg as RFC 5322 text. With an HTML part the body is
// multipart/alternative, plain text first.
func buildMessage(fromName, fromAddress string, msg Message, now time.Time) ([]byte, error) {
	to, err := mail.ParseAddress(msg.ToAddress)
	if err != nil {
		return nil, oops.Code("MESSAGE_INVALID_RECIPIENT").Wrap(err)
	}
	from := mail.Address{Name: fromName, Address: fromAddress}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", ulid.Make().String(), domainOf(fromAddress)))
	header("MIME-Version", "1.0")

	if msg.HTMLBody == "" {
		header("Content-Type", `text/plain; charset="utf-8"`)
		header("Content-Transfer-Encoding", "8bit")
		buf.WriteString("\r\n")
		buf.WriteString(msg.PlainBody)
		return buf.Bytes(), nil
	}

	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)
	for _, p := range []struct{ contentType, body string }{
		{`text/plain; charset="utf-8"`, msg.PlainBody},
		{`text/html; charset="utf-8"`, msg.HTMLBody},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		if _, err := pw.Write([]byte(p.body)); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}

	header("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, mw.Boundary()))
	buf.WriteString("\r\n")
	buf.Write(parts.Bytes())
	return buf.Bytes(), nil
}

func domainOf(address string) string {
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}

// Compile-time interface check.
var _ Sender = (*SMTPSender)(nil)
