package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
)

// Notifier tells an author that something happened to one of their deeds.
type Notifier interface {
	DeedReady(ctx context.Context, authorID, postID string) error
	DeedFailed(ctx context.Context, authorID, postID string) error
}

// FCMNotifier publishes to the per-author topic "user_<authorId>". The
// mobile app subscribes to its own topic after sign-in, so no device
// token bookkeeping is needed here.
type FCMNotifier struct {
	client *messaging.Client
	log    *logrus.Entry
}

func NewFCMNotifier(ctx context.Context, app *firebase.App, log *logrus.Entry) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	return &FCMNotifier{client: client, log: log}, nil
}

// Topic returns the FCM topic for an author.
func Topic(authorID string) string {
	return "user_" + authorID
}

func (n *FCMNotifier) DeedReady(ctx context.Context, authorID, postID string) error {
	return n.send(ctx, authorID, "Your deed is live", "Processing finished and your post is now visible.", map[string]string{
		"type":    "deed_ready",
		"post_id": postID,
	})
}

func (n *FCMNotifier) DeedFailed(ctx context.Context, authorID, postID string) error {
	return n.send(ctx, authorID, "Upload failed", "We could not process your video. Please try publishing again.", map[string]string{
		"type":    "deed_failed",
		"post_id": postID,
	})
}

func (n *FCMNotifier) send(ctx context.Context, authorID, title, body string, data map[string]string) error {
	message := &messaging.Message{
		Topic: Topic(authorID),
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}

	id, err := n.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("send fcm message: %w", err)
	}
	n.log.Infof("Sent: topic=%s type=%s id=%s", message.Topic, data["type"], id)
	return nil
}
