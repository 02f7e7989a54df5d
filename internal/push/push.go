// Package push delivers alerts and silent wake-ups to the paired device.
package push

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrPermissionDenied means the device can no longer receive pushes, for
// example because the token was unregistered after notifications were
// turned off.
var ErrPermissionDenied = errors.New("device cannot receive push notifications")

// Message is a user-visible alert.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender submits user-visible alerts.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Waker asks the device to report a precise fix for requestID.
type Waker interface {
	WakeForFix(ctx context.Context, requestID string) error
}

// LogSender logs alerts and wake-ups instead of delivering them. It is used
// when no Firebase credentials are configured; the device then polls for
// pending fix requests.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("LogSender")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("Alert (push disabled)", zap.String("title", msg.Title), zap.String("body", msg.Body), zap.Any("data", msg.Data))
	return nil
}

func (s *LogSender) WakeForFix(_ context.Context, requestID string) error {
	s.logger.Info("Fix requested (push disabled, device must poll)", zap.String("requestID", requestID))
	return nil
}
