package push

import (
	"context"
	"fmt"
	"path/filepath"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"spotalert_backend/internal/config"
)

// FCMSender delivers pushes through Firebase Cloud Messaging to a single
// device token, or to a topic when no token is configured.
type FCMSender struct {
	client *messaging.Client
	token  string
	topic  string
	logger *zap.Logger
}

// NewFCMSender initializes the Firebase Admin SDK and creates a messaging client.
func NewFCMSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FCMSender, error) {
	if cfg.FirebaseServiceAccountKeyPath == "" {
		return nil, fmt.Errorf("firebase service account key path is required")
	}
	if cfg.FCMDeviceToken == "" && cfg.FCMTopic == "" {
		return nil, fmt.Errorf("FCM_DEVICE_TOKEN or FCM_TOPIC is required")
	}

	cleanPath := filepath.Clean(cfg.FirebaseServiceAccountKeyPath)
	opt := option.WithCredentialsFile(cleanPath)

	var conf *firebase.Config
	if cfg.FirebaseProjectID != "" {
		conf = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		logger.Error("Failed to initialize Firebase Admin SDK app", zap.Error(err), zap.String("keyPath", cleanPath))
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to get Firebase Messaging client", zap.Error(err))
		return nil, fmt.Errorf("error getting Firebase Messaging client: %w", err)
	}

	logger.Info("Firebase Messaging initialized successfully.", zap.Bool("topic", cfg.FCMDeviceToken == ""))
	return &FCMSender{
		client: client,
		token:  cfg.FCMDeviceToken,
		topic:  cfg.FCMTopic,
		logger: logger.Named("FCMSender"),
	}, nil
}

// Send submits a visible alert and returns once FCM has accepted it.
func (s *FCMSender) Send(ctx context.Context, msg Message) error {
	return s.send(ctx, alertMessage(msg))
}

// WakeForFix sends a silent data push asking the device for a precise fix.
func (s *FCMSender) WakeForFix(ctx context.Context, requestID string) error {
	return s.send(ctx, wakeMessage(requestID))
}

func (s *FCMSender) send(ctx context.Context, m *messaging.Message) error {
	m.Token = s.token
	if s.token == "" {
		m.Topic = s.topic
	}
	id, err := s.client.Send(ctx, m)
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("fcm send failed: %w", err)
	}
	s.logger.Debug("Push accepted", zap.String("messageID", id), zap.String("type", m.Data["type"]))
	return nil
}

func alertMessage(msg Message) *messaging.Message {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	if _, ok := data["type"]; !ok {
		data["type"] = "alert"
	}
	return &messaging.Message{
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	}
}

func wakeMessage(requestID string) *messaging.Message {
	return &messaging.Message{
		Data:    map[string]string{"type": "fix_request", "request_id": requestID},
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "5", "apns-push-type": "background"},
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{ContentAvailable: true}},
		},
	}
}
