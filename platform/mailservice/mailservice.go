// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package mailservice renders templated transactional emails and hands
// them to an SMTP sender, or logs them in simulate mode.
package mailservice

import (
	"bytes"
	"context"
	"net/mail"
	"net/smtp"
	"text/template"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/private/post"
)

var (
	// Error is the default mailservice errs class.
	Error = errs.Class("mailservice")

	mon = monkit.Package()
)

// Config configures outgoing email.
type Config struct {
	Provider string `help:"mail provider: smtp or simulate" default:"simulate"`
	From     string `help:"sender address, e.g. BrightBroom <no-reply@example.com>"  default:""`

	SMTPServerAddress string `help:"smtp host:port" default:""`
	AuthType          string `help:"smtp auth: plain or login" default:"plain"`
	Login             string `help:"smtp login" default:""`
	Password          string `help:"smtp password" default:""`
}

// Service renders and sends mail. It satisfies the outbox email handler
// contract, so delivery retries ride on the outbox backoff.
//
// architecture: Service
type Service struct {
	log    *zap.Logger
	sender post.Sender
}

// New creates a mail service from config. Simulate mode swallows mail
// into the log, which keeps development and tests offline.
func New(log *zap.Logger, config Config) (*Service, error) {
	if config.Provider == "simulate" || config.Provider == "" {
		return &Service{log: log, sender: &simulateSender{log: log}}, nil
	}

	from, err := mail.ParseAddress(config.From)
	if err != nil {
		return nil, Error.New("invalid from address: %v", err)
	}
	sender := &post.SMTPSender{
		ServerAddress: config.SMTPServerAddress,
		From:          *from,
	}
	if config.Login != "" {
		switch config.AuthType {
		case "login":
			sender.Auth = post.LoginAuth{Username: config.Login, Password: config.Password}
		default:
			host, _, err := splitHost(config.SMTPServerAddress)
			if err != nil {
				return nil, err
			}
			sender.Auth = smtp.PlainAuth("", config.Login, config.Password, host)
		}
	}
	return &Service{log: log, sender: sender}, nil
}

// SendRendered renders the named template with data and sends it.
func (service *Service) SendRendered(ctx context.Context, to, templateName string, data map[string]interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	tmpl, ok := templates[templateName]
	if !ok {
		return Error.New("unknown email template %q", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Error.Wrap(err)
	}
	var subject bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Error.Wrap(err)
	}

	recipient, err := mail.ParseAddress(to)
	if err != nil {
		return Error.New("invalid recipient: %v", err)
	}

	return Error.Wrap(service.sender.SendEmail(ctx, &post.Message{
		From:      service.sender.FromAddress(),
		To:        []post.Address{*recipient},
		Subject:   subject.String(),
		PlainText: body.String(),
	}))
}

type simulateSender struct {
	log *zap.Logger
}

func (s *simulateSender) FromAddress() post.Address {
	return post.Address{Name: "BrightBroom", Address: "no-reply@simulate.invalid"}
}

func (s *simulateSender) SendEmail(ctx context.Context, msg *post.Message) error {
	s.log.Info("simulated email",
		zap.String("to", msg.To[0].Address),
		zap.String("subject", msg.Subject))
	return nil
}

func splitHost(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", Error.New("smtp server address %q needs a port", addr)
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) mailTemplate {
	return mailTemplate{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

// templates maps outbox email template names to their rendered form.
var templates = map[string]mailTemplate{
	"booking_pending": mustTemplate("booking_pending",
		"Your cleaning is almost booked",
		"Hi {{.name}},\n\nYour cleaning on {{.starts_at}} is reserved. Complete the deposit to confirm it.\n\nBrightBroom"),
	"booking_confirmed": mustTemplate("booking_confirmed",
		"Your cleaning is confirmed",
		"Hi {{.name}},\n\nYour cleaning on {{.starts_at}} is confirmed. See you then!\n\nBrightBroom"),
	"booking_reminder": mustTemplate("booking_reminder",
		"Reminder: cleaning tomorrow",
		"Hi {{.name}},\n\nA reminder that your cleaning is scheduled for {{.starts_at}}.\n\nBrightBroom"),
	"booking_cancelled": mustTemplate("booking_cancelled",
		"Your cleaning was cancelled",
		"Hi {{.name}},\n\nYour cleaning scheduled for {{.starts_at}} has been cancelled.\n\nBrightBroom"),
	"invoice_sent": mustTemplate("invoice_sent",
		"Invoice {{.number}} from BrightBroom",
		"Hello,\n\nInvoice {{.number}} is ready. View and pay it here:\n{{.link}}\n\nBrightBroom"),
	"user_invite": mustTemplate("user_invite",
		"You have been invited to BrightBroom",
		"Hello,\n\nYou have been invited to join {{.org_name}} on BrightBroom. Set your password here:\n{{.link}}\n\nBrightBroom"),
	"password_reset": mustTemplate("password_reset",
		"Your BrightBroom password was reset",
		"Hello,\n\nAn administrator reset your password. If this was not expected, contact your organization owner.\n\nBrightBroom"),
}
