package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"tikiti/internal/kafka"
	"tikiti/internal/logger"
	"tikiti/internal/models"
)

// Queue publishes messages to a topic.
type Queue interface {
	Publish(topic string, key string, value []byte) error
}

// Producer fans an issued ticket out to the delivery channels. Each channel
// gets its own task on its own topic.
type Producer struct {
	Queue Queue
	Log   *logger.Logger
}

func (p *Producer) EnqueueTicketNotifications(ctx context.Context, ticketID string) error {
	channels := map[string]string{
		models.NotifyChannelEmail: kafka.TopicNotifyEmail,
		models.NotifyChannelSMS:   kafka.TopicNotifySMS,
	}

	for channel, topic := range channels {
		task := models.NotificationTask{TicketID: ticketID, Channel: channel}
		payload, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := p.Queue.Publish(topic, ticketID, payload); err != nil {
			return fmt.Errorf("failed to enqueue %s notification for ticket %s: %w", channel, ticketID, err)
		}
		p.Log.LogKafka("ENQUEUE", topic, fmt.Sprintf("Notification task for ticket %s", ticketID))
	}
	return nil
}
