package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		require.Equal(t, "outbox-1", envelope.ID)
		require.Equal(t, domain.EventOrderCreated, envelope.EventType)
		require.JSONEq(t, `{"total":"15.5"}`, string(envelope.Payload))
		require.False(t, envelope.PublishedAt.IsZero())
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"total":"15.5"}`),
	})
	require.NoError(t, err)

	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicOrderingEvents)
	err := publisher.Publish(domain.OutboxMessage{ID: "outbox-2", AggregateType: domain.AggregateClient, AggregateID: "2"})
	require.Error(t, err)

	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	require.Error(t, NewOutboxPublisher(nil, TopicOrderingEvents).Publish(domain.OutboxMessage{ID: "outbox-3"}))
	require.Error(t, NewDLQPublisher(nil, "", "").Publish(domain.OutboxMessage{ID: "outbox-3"}))
}

func TestDLQPublisher_ForwardsPayload(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		require.JSONEq(t, `{"publish_error":"boom"}`, string(val))
		return nil
	})

	publisher := NewDLQPublisher(producer, "", "")
	require.NoError(t, publisher.Publish(domain.OutboxMessage{
		ID:          "outbox-4",
		AggregateID: "4",
		Payload:     []byte(`{"publish_error":"boom"}`),
	}))

	require.NoError(t, mockProducer.Close())
}

func TestPartitionKeyAndHeaders(t *testing.T) {
	t.Parallel()

	event := domain.OutboxMessage{ID: "x", AggregateType: domain.AggregateProduct, AggregateID: "7", EventType: domain.EventProductDeleted}
	require.Equal(t, "product:7", partitionKey(event))
	require.Equal(t, "x", partitionKey(domain.OutboxMessage{ID: "x"}))

	headers := map[string]string{}
	for _, h := range eventHeaders(event) {
		headers[string(h.Key)] = string(h.Value)
	}
	require.Equal(t, map[string]string{
		HeaderEventType:     domain.EventProductDeleted,
		HeaderAggregateType: domain.AggregateProduct,
		HeaderOutboxID:      "x",
	}, headers)
}

func TestNewEnvelope_EmptyPayloadIsNull(t *testing.T) {
	t.Parallel()

	envelope := NewEnvelope(domain.OutboxMessage{ID: "x"}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("BRT", -3*3600)))
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.Contains(t, string(data), `"payload":null`)
	require.Equal(t, time.UTC, envelope.PublishedAt.Location())
}
