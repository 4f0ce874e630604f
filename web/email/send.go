package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Config struct {
	Server   string
	Port     string
	User     string
	Pass     string
	FromAddr string
	FromName string
}

func (c Config) Enabled() bool {
	return c.Server != "" && c.Port != "" && c.FromAddr != ""
}

type Mailer struct {
	cfg      Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg Config) *Mailer {
	return &Mailer{cfg: cfg, sendMail: smtp.SendMail}
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Enabled()
}

func (m *Mailer) SendEmail(to string, subject string, body string) error {
	if !m.Enabled() {
		return fmt.Errorf("missing required SMTP settings: SMTP_SERVER=%q, SMTP_PORT=%q, FROM_ADDR=%q",
			m.cfg.Server, m.cfg.Port, m.cfg.FromAddr)
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}

	fromName := m.cfg.FromName
	if fromName == "" {
		fromName = m.cfg.FromAddr
	}
	msg := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		fromName, m.cfg.FromAddr, to, subject, body))

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Server)
	}

	err := m.sendMail(m.cfg.Server+":"+m.cfg.Port, auth, m.cfg.FromAddr, []string{to}, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (m *Mailer) SendDeliveryEmail(to, productName, downloadLink, telegramLink string) error {
	subject := fmt.Sprintf("Your purchase: %s", productName)
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your purchase of %s.\n\n", productName)
	if downloadLink != "" {
		fmt.Fprintf(&b, "Download it here:\n\n%s\n\n", downloadLink)
	}
	if telegramLink != "" {
		fmt.Fprintf(&b, "Join the group:\n\n%s\n\n", telegramLink)
	}
	b.WriteString("Keep this message, the link is your proof of purchase.")
	return m.SendEmail(to, subject, b.String())
}
