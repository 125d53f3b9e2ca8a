package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNotificationQueues(t *testing.T) {
	queues := GetNotificationQueues()

	require.Len(t, queues, 2)
	assert.Equal(t, "notifications.trial_expired", queues[0].QueueName)
	assert.Equal(t, RoutingTrialExpired, queues[0].RoutingKey)
	assert.Equal(t, "notifications.trial_ending", queues[1].QueueName)
	assert.Equal(t, RoutingTrialEnding, queues[1].RoutingKey)
}

func TestQueueNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, q := range append(GetNotificationQueues(), GetSecurityQueues()...) {
		assert.Falsef(t, seen[q.QueueName], "duplicate queue name: %s", q.QueueName)
		seen[q.QueueName] = true
	}
}
