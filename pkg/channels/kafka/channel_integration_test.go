package kafka_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/onboardflow/pkg/channels/kafka"
	"github.com/dukex/onboardflow/pkg/eventbus"
	"github.com/dukex/onboardflow/pkg/events"
	"github.com/dukex/onboardflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func startKafka(t *testing.T) []string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Kafka integration test in short mode")
	}

	ctx := context.Background()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_CREATE_TOPICS": "true",
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		err := container.Terminate(context.Background())
		if err != nil {
			t.Logf("Failed to terminate Kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	createTopics(t, brokers, events.Topic, events.StepTopic, events.ReminderTopic)

	return brokers
}

func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()

	admin, err := sarama.NewClusterAdmin(brokers, sarama.NewConfig())
	require.NoError(t, err)

	defer func() { _ = admin.Close() }()

	for _, topic := range topics {
		err := admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false)
		require.NoError(t, err)
	}
}

func TestCreateChannel_DeliversActivations(t *testing.T) {
	brokers := startKafka(t)

	logger := slog.New(slog.DiscardHandler)

	pub, sub, err := kafka.CreateChannel(watermill.NopLogger{}, "integration", brokers)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)

	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []*events.NodeActivated
	)

	require.NoError(t, bus.Handle(events.NodeActivatedEvent, func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event.(*events.NodeActivated))

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	activation := &events.NodeActivated{
		BaseEvent: events.NewBaseEvent(events.NodeActivatedEvent, time.Now().UTC(), "tenant-1", "wf-1"),
		RunID:     "run-1",
		NodeRunID: "nr-1",
		NodeID:    "welcome",
		NodeType:  models.NodeTypeTask,
		SubjectID: "subject-1",
		Assignees: []string{"subject-1"},
	}

	require.NoError(t, eventbus.NewDispatcher(bus).Dispatch(ctx, activation))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 30*time.Second, 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, activation.NodeRunID, received[0].NodeRunID)
	assert.Equal(t, activation.Assignees, received[0].Assignees)
	assert.Equal(t, models.NodeTypeTask, received[0].NodeType)
}
