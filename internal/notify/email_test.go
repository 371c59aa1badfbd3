package notify

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestEmailComposeStripsHeaderInjection(t *testing.T) {
	e := &Email{from: "watch@example.com"}
	msg := string(e.compose("a@example.com", "Subject\r\nBcc: evil@example.com", "body text"))

	if strings.Contains(msg, "Bcc:") {
		t.Fatal("injected header survived composition")
	}
	if !strings.HasPrefix(msg, "From: watch@example.com\r\n") {
		t.Fatalf("unexpected leading header: %q", msg[:40])
	}
	if !strings.Contains(msg, "\r\n\r\nbody text") {
		t.Fatal("body not separated from headers")
	}
}

func TestEmailSendRequiresRecipient(t *testing.T) {
	e := &Email{host: "smtp.example.com", from: "watch@example.com"}
	if err := e.Send(context.Background(), Event{Office: "Cary"}); err == nil {
		t.Fatal("send without recipient must fail")
	}
}

func TestEmailSendHonorsContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Accept the connection and never send an SMTP greeting.
	done := make(chan struct{})
	defer close(done)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-done
		_ = conn.Close()
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	e := &Email{host: host, port: port, from: "watch@example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = e.Send(ctx, Event{Office: "Cary", Recipient: "a@example.com"})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("send to a silent server must fail")
	}
	if elapsed > 3*time.Second {
		t.Fatalf("send outlived its context deadline: took %v", elapsed)
	}
}

func TestEmailUnconfiguredIsNoOp(t *testing.T) {
	e := &Email{}
	if e.Configured() {
		t.Fatal("empty channel reports configured")
	}
	if err := e.Send(context.Background(), Event{Recipient: "a@example.com"}); err != nil {
		t.Fatalf("unconfigured send should be a no-op, got %v", err)
	}
}
