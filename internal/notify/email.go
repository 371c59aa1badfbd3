package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"dmvwatch/internal/envutil"
)

// Email delivers per-recipient over SMTP. This is the multi-recipient
// channel: the scheduler fans one event out to every subscriber of the
// office, so Event.Recipient is always set on the hot path.
type Email struct {
	host     string
	port     string
	username string
	password string
	from     string
	useTLS   bool
	useSSL   bool
}

func NewEmail(hostEnv, portEnv, userEnv, passEnv, fromEnv, useTLSEnv, useSSLEnv string) *Email {
	port := envutil.String(portEnv)
	if port == "" {
		port = "587"
	}
	return &Email{
		host:     envutil.String(hostEnv),
		port:     port,
		username: envutil.String(userEnv),
		password: envutil.String(passEnv),
		from:     envutil.String(fromEnv),
		useTLS:   envutil.Bool(useTLSEnv, true),
		useSSL:   envutil.Bool(useSSLEnv, false),
	}
}

func (e *Email) Name() string     { return "email" }
func (e *Email) Configured() bool { return e.host != "" && e.from != "" }

func (e *Email) Send(ctx context.Context, ev Event) error {
	if !e.Configured() {
		return nil
	}

	to := strings.TrimSpace(ev.Recipient)
	if to == "" {
		return errors.New("email event without recipient")
	}

	subject := "NC DMV availability at " + ev.Office
	body := "New slot detected: " + ev.Signature
	if ev.OfficeURL != "" {
		body += "\n" + ev.OfficeURL
	}
	msg := e.compose(to, subject, body)

	conn, err := e.dial(ctx, e.host+":"+e.port)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	// net/smtp has no context support; the whole transaction (greeting
	// included) inherits the caller's deadline through the connection, so
	// a silent server cannot pin a sender worker.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer func() { _ = c.Close() }()

	// STARTTLS on the common 587 path when the server offers it (and
	// use_tls allows); the implicit-TLS path is already encrypted.
	if !e.useSSL && e.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	return e.transact(c, to, msg)
}

// dial opens the transport under ctx: plain TCP for the STARTTLS path,
// TLS from the first byte for the implicit-TLS (465) path.
func (e *Email) dial(ctx context.Context, addr string) (net.Conn, error) {
	if e.useSSL {
		d := &tls.Dialer{Config: &tls.Config{ServerName: e.host}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (e *Email) transact(c *smtp.Client, to string, msg []byte) error {
	if e.username != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(e.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// compose builds a minimal RFC 5322 plain-text message. Header values are
// stripped of CR/LF to block header injection.
func (e *Email) compose(to, subject, body string) []byte {
	clean := strings.NewReplacer("\r", "", "\n", "")
	var b strings.Builder
	b.WriteString("From: " + clean.Replace(e.from) + "\r\n")
	b.WriteString("To: " + clean.Replace(to) + "\r\n")
	b.WriteString("Subject: " + clean.Replace(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
