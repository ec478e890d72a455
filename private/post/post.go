// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package post implements email message composition and SMTP sending.
package post

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"
)

// Address is an alias for net/mail Address.
type Address = mail.Address

// Message is a RFC-5322 style email message.
type Message struct {
	From      Address
	To        []Address
	Subject   string
	ID        string
	Date      time.Time
	PlainText string
	Parts     []Part
}

// Part is a mime part of a message.
type Part struct {
	Type    string
	Content string
}

// Bytes renders the message into wire format.
func (msg *Message) Bytes() []byte {
	var builder strings.Builder

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	fmt.Fprintf(&builder, "From: %s\r\n", msg.From.String())

	tos := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		tos = append(tos, to.String())
	}
	fmt.Fprintf(&builder, "To: %s\r\n", strings.Join(tos, ", "))
	fmt.Fprintf(&builder, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&builder, "Date: %s\r\n", date.Format(time.RFC1123Z))
	if msg.ID != "" {
		fmt.Fprintf(&builder, "Message-ID: <%s>\r\n", msg.ID)
	}
	builder.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case len(msg.Parts) == 0:
		builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		builder.WriteString(msg.PlainText)
	default:
		boundary := "bb-" + date.Format("20060102150405.000000000")
		fmt.Fprintf(&builder, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

		fmt.Fprintf(&builder, "--%s\r\n", boundary)
		builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		builder.WriteString(msg.PlainText)
		builder.WriteString("\r\n")

		for _, part := range msg.Parts {
			fmt.Fprintf(&builder, "--%s\r\n", boundary)
			fmt.Fprintf(&builder, "Content-Type: %s\r\n", part.Type)
			builder.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
			builder.WriteString(base64.StdEncoding.EncodeToString([]byte(part.Content)))
			builder.WriteString("\r\n")
		}
		fmt.Fprintf(&builder, "--%s--\r\n", boundary)
	}

	return []byte(builder.String())
}
