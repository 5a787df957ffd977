// Package notify delivers failure emails to feed owners and run
// summaries to the team webhook. Delivery is best effort: the pipeline
// records an undeliverable notification and moves on.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
)

// EmailNotifier sends per-file failure emails over SMTP. Port 465 uses
// implicit TLS; anything else upgrades with STARTTLS when the server
// offers it.
type EmailNotifier struct {
	cfg    config.NotifyConfig
	logger *slog.Logger

	// send is swapped out in tests.
	send func(addr string, from string, to []string, msg []byte) error
}

func NewEmailNotifier(cfg config.NotifyConfig) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: slog.Default()}
	n.send = n.sendSMTP
	return n
}

// NotifyFileError emails the failure to the source's recipients, CCing
// the data team when configured.
func (n *EmailNotifier) NotifyFileError(ctx context.Context, filename string, logID int64, ferr *fileerr.Error, recipients []string) error {
	if n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email notifications not configured, failure will not be handled",
			"source_filename", filename)
		return fmt.Errorf("notify: smtp host or from address not configured")
	}
	if len(recipients) == 0 {
		return fmt.Errorf("notify: no recipients for %s", filename)
	}

	all := append([]string{}, recipients...)
	if n.cfg.DataTeamEmail != "" {
		all = append(all, n.cfg.DataTeamEmail)
	}
	msg := n.buildMessage(filename, logID, ferr, recipients)
	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(n.cfg.SMTPPort))
	if err := n.send(addr, n.cfg.FromEmail, all, msg); err != nil {
		return fmt.Errorf("notify: send email for %s: %w", filename, err)
	}
	n.logger.Info("failure email sent",
		"source_filename", filename,
		"error_type", string(ferr.Kind),
		"recipients", strings.Join(recipients, ", "))
	return nil
}

func (n *EmailNotifier) buildMessage(filename string, logID int64, ferr *fileerr.Error, recipients []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	if n.cfg.DataTeamEmail != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", n.cfg.DataTeamEmail)
	}
	fmt.Fprintf(&b, "Subject: FileLoader Failed: %s - %s\r\n", filename, ferr.Title())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	b.WriteString(ferr.EmailMessage())
	b.WriteString("\r\n\r\n")
	fmt.Fprintf(&b, "File: %s\r\n", filename)
	fmt.Fprintf(&b, "Error Type: %s\r\n", string(ferr.Kind))
	fmt.Fprintf(&b, "Load Log ID: %d\r\n", logID)
	b.WriteString("\r\nReply to the data team if you believe this failure is incorrect.\r\n")
	return []byte(b.String())
}

func (n *EmailNotifier) sendSMTP(addr, from string, to []string, msg []byte) error {
	if n.cfg.SMTPPort == 465 {
		return n.sendImplicitTLS(addr, from, to, msg)
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	return n.transmit(client, from, to, msg)
}

func (n *EmailNotifier) sendImplicitTLS(addr, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.cfg.SMTPHost})
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()
	return n.transmit(client, from, to, msg)
}

func (n *EmailNotifier) transmit(client *smtp.Client, from string, to []string, msg []byte) error {
	if n.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPassword, n.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
