// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package post

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"

	"github.com/zeebo/errs"
)

// Error is the default post errs class.
var Error = errs.Class("post")

// Sender sends single email messages.
type Sender interface {
	SendEmail(ctx context.Context, msg *Message) error
	FromAddress() Address
}

// SMTPSender is a Sender that connects to an SMTP server.
type SMTPSender struct {
	ServerAddress string
	From          Address
	Auth          smtp.Auth
}

// FromAddress implements Sender.
func (sender *SMTPSender) FromAddress() Address { return sender.From }

// SendEmail delivers the message over SMTP with STARTTLS.
func (sender *SMTPSender) SendEmail(ctx context.Context, msg *Message) (err error) {
	host, _, err := net.SplitHostPort(sender.ServerAddress)
	if err != nil {
		return Error.Wrap(err)
	}

	client, err := smtp.Dial(sender.ServerAddress)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(client.Close())) }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return Error.Wrap(err)
		}
	}

	if sender.Auth != nil {
		if err := client.Auth(sender.Auth); err != nil {
			return Error.Wrap(err)
		}
	}

	if err := client.Mail(sender.From.Address); err != nil {
		return Error.Wrap(err)
	}
	for _, to := range msg.To {
		if err := client.Rcpt(to.Address); err != nil {
			return Error.Wrap(err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := writer.Write(msg.Bytes()); err != nil {
		return Error.Wrap(errs.Combine(err, writer.Close()))
	}
	if err := writer.Close(); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(client.Quit())
}

// LoginAuth implements the LOGIN authentication mechanism.
type LoginAuth struct {
	Username string
	Password string
}

// Start implements smtp.Auth.
func (auth LoginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

// Next implements smtp.Auth.
func (auth LoginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:":
		return []byte(auth.Username), nil
	case "Password:":
		return []byte(auth.Password), nil
	}
	return nil, Error.New("unexpected server challenge %q", fromServer)
}
