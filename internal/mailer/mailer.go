package mailer

import (
	"crypto/tls"

	"go.uber.org/zap"
	mail "gopkg.in/gomail.v2"

	"mailwarm/backend/internal/config"
)

// Transport 抽象邮件发送能力。
//
// 调度器只关心发送成败，不关心底层协议细节。
type Transport interface {
	Send(from, to, subject, textBody, htmlBody string) error
}

// SMTPTransport 通过 SMTP 中继发送邮件的 Transport 实现。
type SMTPTransport struct {
	dialer *mail.Dialer
	log    *zap.Logger
}

// NewSMTPTransport 创建 SMTP 发送器。
func NewSMTPTransport(cfg *config.SMTPConfig, log *zap.Logger) *SMTPTransport {
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}

	if cfg.SkipTLSVerify {
		log.Warn("TLS certificate verification is disabled for SMTP relay")
	}

	return &SMTPTransport{
		dialer: dialer,
		log:    log,
	}
}

// Send 发送一封邮件。超时控制由底层连接负责。
func (t *SMTPTransport) Send(from, to, subject, textBody, htmlBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	return t.dialer.DialAndSend(m)
}
