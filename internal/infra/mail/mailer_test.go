package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/config"
)

func TestSMTPMailer_Send(t *testing.T) {
	mailer, err := NewSMTPMailer(config.MailSettings{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer",
		Password: "secret",
		From:     "Sombreando <no-reply@sombreando.com>",
	})
	if err != nil {
		t.Fatalf("NewSMTPMailer returned error: %v", err)
	}
	mailer.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	mailer.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, auth, from, to, string(msg)
		return nil
	}

	err = mailer.Send(context.Background(), port.MailMessage{
		To:      "ana@example.com",
		Subject: "Verificação de Email - Sombreando",
		Body:    "Olá Ana,\nSeu código: 123456",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotAddr != "smtp.example.com:587" || gotAuth == nil {
		t.Fatalf("unexpected relay %s (auth=%v)", gotAddr, gotAuth)
	}
	if gotFrom != "no-reply@sombreando.com" {
		t.Fatalf("expected bare envelope sender, got %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: =?utf-8?q?") {
		t.Fatalf("expected encoded subject, got %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "\r\n\r\nOlá Ana,\r\nSeu código: 123456") {
		t.Fatalf("unexpected body: %q", gotMsg)
	}
}

func TestSMTPMailer_NoAuthWithoutUsername(t *testing.T) {
	mailer, err := NewSMTPMailer(config.MailSettings{Host: "localhost", Port: 25, From: "no-reply@sombreando.com"})
	if err != nil {
		t.Fatalf("NewSMTPMailer returned error: %v", err)
	}

	boom := errors.New("relay down")
	mailer.send = func(_ string, auth smtp.Auth, _ string, _ []string, _ []byte) error {
		if auth != nil {
			t.Fatal("expected no auth without username")
		}
		return boom
	}

	if err := mailer.Send(context.Background(), port.MailMessage{To: "a@x.com"}); !errors.Is(err, boom) {
		t.Fatalf("expected relay error, got %v", err)
	}
	if err := mailer.Send(context.Background(), port.MailMessage{To: "a@x.com\r\nBcc: evil@x.com"}); err == nil {
		t.Fatal("expected header injection to be rejected")
	}
}

func TestNewSMTPMailerRequiresSettings(t *testing.T) {
	if _, err := NewSMTPMailer(config.MailSettings{}); !errors.Is(err, ErrMailerNotConfigured) {
		t.Fatalf("expected ErrMailerNotConfigured, got %v", err)
	}
}

func TestConsoleMailerLogsMaskedRecipient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mailer, err := New(config.MailSettings{Backend: "console"}, zap.New(core))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := mailer.Send(context.Background(), port.MailMessage{To: "ana@example.com", Subject: "s", Body: "123456"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	entries := logs.FilterMessage("console mail").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if to := entries[0].ContextMap()["to"]; to != "ana***@example.com" {
		t.Fatalf("expected masked recipient, got %v", to)
	}
}
