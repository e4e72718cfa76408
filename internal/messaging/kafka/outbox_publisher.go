package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderingEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish отправляет событие с ключом агрегата, чтобы события одной сущности шли в одну партицию.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	return p.producer.PublishEvent(p.topic, partitionKey(event), NewEnvelope(event, time.Now()), eventHeaders(event)...)
}

// DLQPublisher пересылает сообщения, исчерпавшие попытки, в dead letter topic.
// Payload приходит от outbox worker уже с описанием ошибки.
type DLQPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
}

// NewDLQPublisher создаёт паблишер DLQ. originalTopic попадает в заголовок x-original-topic.
func NewDLQPublisher(producer *Producer, topic, originalTopic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	if originalTopic == "" {
		originalTopic = TopicOrderingEvents
	}
	return &DLQPublisher{producer: producer, topic: topic, originalTopic: originalTopic}
}

func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	headers := append(eventHeaders(event),
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(p.originalTopic)},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	)
	return p.producer.Publish(p.topic, partitionKey(event), event.Payload, headers...)
}

func partitionKey(event domain.OutboxMessage) string {
	if event.AggregateID == "" {
		return event.ID
	}
	return event.AggregateType + ":" + event.AggregateID
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
