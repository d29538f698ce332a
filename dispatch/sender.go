package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/packguard"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Subject  string        `mapstructure:"subject"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

const defaultSubject = "Your verification code"

// SMTPSender sends codes through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ packguard.CodeSender = (*SMTPSender)(nil)

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("SMTP_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("SMTP_CONFIG_INVALID").Errorf("smtp from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}, nil
}

// SendCode mails code to address. It gives up when ctx ends or the
// configured timeout passes; the relay conversation itself may still finish.
func (s *SMTPSender) SendCode(ctx context.Context, address, code, displayName string) error {
	if strings.ContainsAny(address, "\r\n") {
		return oops.Code("SMTP_BAD_ADDRESS").Errorf("invalid recipient address")
	}
	msg := s.message(address, code, displayName)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.send(addr, auth, s.cfg.From, []string{address}, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return oops.Code("SMTP_SEND_FAILED").With("host", s.cfg.Host).Wrap(err)
		}
		return nil
	case <-ctx.Done():
		return oops.Code("SMTP_SEND_TIMEOUT").With("host", s.cfg.Host).Wrap(ctx.Err())
	}
}

func (s *SMTPSender) message(address, code, displayName string) []byte {
	name := displayName
	if name == "" {
		name = address
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", address)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", s.cfg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Hello %s,\r\n\r\n", strings.NewReplacer("\r", "", "\n", "").Replace(name))
	fmt.Fprintf(&b, "Your verification code is %s.\r\n", code)
	b.WriteString("It expires shortly and can only be used once.\r\n")
	return b.Bytes()
}

// LogSender writes codes to a logger.
type LogSender struct {
	log logrus.FieldLogger
}

var _ packguard.CodeSender = (*LogSender)(nil)

func NewLogSender(log logrus.FieldLogger) *LogSender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSender{log: log.WithField("component", "dispatch")}
}

func (s *LogSender) SendCode(_ context.Context, address, code, displayName string) error {
	s.log.WithFields(logrus.Fields{
		"to":   address,
		"name": displayName,
		"code": code,
	}).Info("two-factor code")
	return nil
}
