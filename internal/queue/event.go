// Package queue moves notification jobs through RabbitMQ so that push
// delivery runs outside the request that committed the visitor change.
package queue

import (
	"time"

	"github.com/iliyamo/community-gate/internal/notify"
)

// NotificationEvent is the message body published for every notification
// job. It carries everything the consumer needs, so delivery never reads the
// visitor record again.
type NotificationEvent struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	QueuedAt    string            `json:"queued_at"`
}

func eventFromJob(job notify.Job, now time.Time) NotificationEvent {
	return NotificationEvent{
		RecipientID: job.RecipientID,
		Title:       job.Message.Title,
		Body:        job.Message.Body,
		Data:        job.Message.Data,
		QueuedAt:    now.UTC().Format(time.RFC3339),
	}
}

func (e NotificationEvent) job() notify.Job {
	return notify.Job{
		RecipientID: e.RecipientID,
		Message:     notify.Message{Title: e.Title, Body: e.Body, Data: e.Data},
	}
}
