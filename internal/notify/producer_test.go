package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tikiti/internal/kafka"
	"tikiti/internal/logger"
	"tikiti/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	messages map[string][][]byte
	failErr  error
}

func (f *fakeQueue) Publish(topic string, key string, value []byte) error {
	if f.failErr != nil {
		return f.failErr
	}
	if f.messages == nil {
		f.messages = make(map[string][][]byte)
	}
	f.messages[topic] = append(f.messages[topic], value)
	return nil
}

func TestEnqueueTicketNotifications(t *testing.T) {
	queue := &fakeQueue{}
	producer := &Producer{Queue: queue, Log: logger.NewLogger()}

	err := producer.EnqueueTicketNotifications(context.Background(), "ticket1")
	require.NoError(t, err)

	require.Len(t, queue.messages[kafka.TopicNotifyEmail], 1)
	require.Len(t, queue.messages[kafka.TopicNotifySMS], 1)

	var emailTask models.NotificationTask
	require.NoError(t, json.Unmarshal(queue.messages[kafka.TopicNotifyEmail][0], &emailTask))
	assert.Equal(t, models.NotificationTask{TicketID: "ticket1", Channel: models.NotifyChannelEmail}, emailTask)

	var smsTask models.NotificationTask
	require.NoError(t, json.Unmarshal(queue.messages[kafka.TopicNotifySMS][0], &smsTask))
	assert.Equal(t, models.NotificationTask{TicketID: "ticket1", Channel: models.NotifyChannelSMS}, smsTask)
}

func TestEnqueueTicketNotificationsPropagatesQueueErrors(t *testing.T) {
	queue := &fakeQueue{failErr: errors.New("broker unreachable")}
	producer := &Producer{Queue: queue, Log: logger.NewLogger()}

	err := producer.EnqueueTicketNotifications(context.Background(), "ticket1")
	assert.Error(t, err)
}
