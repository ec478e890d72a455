// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package audit emits structured business events with PII redaction.
package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightbroom/brightbroom/private/requestid"
)

// Log writes audit events as machine readable records.
type Log struct {
	log *zap.Logger
}

// NewLog creates an audit log on top of the given logger.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("audit")}
}

// Event appends an audit record. Every field value passes through the
// redaction filter before it is written.
func (a *Log) Event(ctx context.Context, event string, fields ...zap.Field) {
	if a == nil || a.log == nil {
		return
	}
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("request_id", requestid.FromContext(ctx)))
	for _, field := range fields {
		if field.Type == zapcore.StringType {
			field.String = Redact(field.String)
		}
		out = append(out, field)
	}
	a.log.Info(event, out...)
}
