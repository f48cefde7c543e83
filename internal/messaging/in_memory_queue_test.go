package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ingest-backend/internal/messaging"
	"ingest-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueRoundTrip(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	payload := models.NotificationTaskPayload{Envelope: []byte(`{"message":{"data":"e30="}}`)}
	require.NoError(t, queue.PublishNotification(context.Background(), payload))

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, messaging.NotificationQueue, task.Type())

		var received models.NotificationTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)

		require.NoError(t, task.Ack())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task")
	}
}

func TestInMemoryQueuePreservesOrder(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	first := models.NotificationTaskPayload{Envelope: []byte(`1`)}
	second := models.NotificationTaskPayload{Envelope: []byte(`2`)}
	require.NoError(t, queue.PublishNotification(context.Background(), first))
	require.NoError(t, queue.PublishNotification(context.Background(), second))

	task := <-queue.Tasks()
	var received models.NotificationTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &received))
	assert.Equal(t, first, received)

	task = <-queue.Tasks()
	require.NoError(t, json.Unmarshal(task.Payload(), &received))
	assert.Equal(t, second, received)
}
