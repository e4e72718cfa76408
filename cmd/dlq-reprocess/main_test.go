package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordering/internal/messaging/kafka"
)

const orderDLQValue = `{"outbox_id":"ob-1","aggregate_type":"order","aggregate_id":"7","event_type":"order.created","payload":{"id":7,"total":"31.00"},"publish_error":"timeout"}`

func TestParseBrokers(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, parseBrokers(" , "))
}

func TestExtractReplayMessage_OutboxRecord(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Value: []byte(orderDLQValue),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte("ordering.events.v2")},
		},
	}

	got, ok, err := extractReplayMessage(msg, kafka.TopicOrderingEvents)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ordering.events.v2", got.topic)
	require.Equal(t, "ob-1", got.event.ID)
	require.Equal(t, "order", got.event.AggregateType)
	require.Equal(t, "7", got.event.AggregateID)
	require.Equal(t, "order.created", got.event.EventType)
	require.JSONEq(t, `{"id":7,"total":"31.00"}`, string(got.event.Payload))
}

func TestExtractReplayMessage_DefaultTopic(t *testing.T) {
	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(orderDLQValue)}, kafka.TopicOrderingEvents)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kafka.TopicOrderingEvents, got.topic)
}

func TestExtractReplayMessage_MissingPayload(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: []byte(`{"outbox_id":"ob-1","event_type":"order.created"}`)}

	_, ok, err := extractReplayMessage(msg, kafka.TopicOrderingEvents)
	require.Error(t, err)
	require.False(t, ok)
}

func TestExtractReplayMessage_UnknownPayload(t *testing.T) {
	for _, value := range []string{`{"foo":"bar"}`, `not-json`} {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, kafka.TopicOrderingEvents)
		require.NoError(t, err, value)
		require.False(t, ok, value)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=ordering.dlq",
		"-target-topic=ordering.events",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		require.Len(t, cfg.brokers, 2)
		require.Equal(t, defaultClientID, cfg.clientID)
		require.Equal(t, 10, cfg.limit)
		require.True(t, cfg.execute)
		require.True(t, cfg.fromNewest)
		require.Equal(t, 3*time.Second, cfg.idleTimeout)
	})
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	t.Setenv(brokersEnv, "env-broker:9092")

	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		require.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
		require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
		require.Equal(t, kafka.TopicOrderingEvents, cfg.targetTopic)
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv(brokersEnv, "")

	tests := []struct {
		args    []string
		wantErr string
	}{
		{args: []string{"-brokers="}, wantErr: "kafka brokers are required"},
		{args: []string{"-brokers=broker:9092", "-source-topic="}, wantErr: "source-topic is required"},
		{args: []string{"-brokers=broker:9092", "-target-topic="}, wantErr: "target-topic is required"},
		{args: []string{"-brokers=broker:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
	}

	for _, tc := range tests {
		withFlagArgs(t, tc.args, func() {
			_, err := readConfig()
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer(dlqMessage(0, 0)),
		},
	}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	require.NoError(t, err)
	require.Equal(t, partitionStats{processed: 1, replayed: 1}, stats)
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)},
	}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, fromNewest: true, idleTimeout: 20 * time.Millisecond}

	_, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 2)
	require.NoError(t, err)
	require.Equal(t, int64(8), consumer.calls[0].offset)

	consumer.calls = nil
	_, err = processPartition(context.Background(), consumer, client, nil, cfg, 0, 50)
	require.NoError(t, err)
	require.Equal(t, int64(3), consumer.calls[0].offset)
}

func TestProcessPartition_ExecutePublishesEnvelope(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(dlqMessage(0, 0))},
	}
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope kafka.Envelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		if envelope.ID != "ob-1" || envelope.EventType != "order.created" {
			return fmt.Errorf("unexpected envelope: %+v", envelope)
		}
		return nil
	})

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, execute: true, idleTimeout: 20 * time.Millisecond}
	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.NoError(t, producer.Close())
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, execute: true, idleTimeout: 20 * time.Millisecond}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	t.Run("offset error", func(t *testing.T) {
		failing := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
		_, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, failing, nil, cfg, 0, 1)
		require.ErrorContains(t, err, "oldest offset")
	})

	t.Run("consume error", func(t *testing.T) {
		_, err := processPartition(context.Background(), &stubPartitionConsumerSource{consumeErr: errors.New("consume")}, client, nil, cfg, 0, 1)
		require.ErrorContains(t, err, "consume partition 0")
	})

	t.Run("consumer error", func(t *testing.T) {
		pc := &stubPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError, 1),
		}
		pc.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
		consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}}

		_, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
		require.ErrorContains(t, err, "consumer error")
	})

	t.Run("bad payload is skipped", func(t *testing.T) {
		bad := closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(`{"outbox_id":"x"}`)}})
		consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: bad}}

		stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
		require.NoError(t, err)
		require.Equal(t, partitionStats{processed: 1, skipped: 1}, stats)
	})

	t.Run("publish error", func(t *testing.T) {
		consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(dlqMessage(0, 0))}}
		producer, mockProducer := newMockProducer(t)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		_, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1)
		require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.NoError(t, producer.Close())
	})
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, idleTimeout: 10 * time.Millisecond}

	idle := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}, client, nil, cfg, 0, 1)
	require.NoError(t, err)
	require.Zero(t, stats.processed)
	require.True(t, idle.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	canceled := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	_, err = processPartition(ctx, &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceled}}, client, nil, cfg, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, limit: 1, idleTimeout: 20 * time.Millisecond}

	require.Error(t, runReplay(context.Background(), cfg, nil, nil, nil))

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer(dlqMessage(0, 0)),
			2: closedPartitionConsumer(dlqMessage(2, 0)),
		},
	}

	require.NoError(t, runReplay(context.Background(), cfg, client, consumer, nil))
	require.Len(t, consumer.calls, 1, "limit=1 stops after the first partition")
	require.Equal(t, int32(0), consumer.calls[0].partition)

	executeCfg := cfg
	executeCfg.execute = true
	require.ErrorContains(t, runReplay(context.Background(), executeCfg, client, consumer, nil), "producer is required")

	require.NoError(t, runReplay(context.Background(), cfg, &stubOffsetClient{}, consumer, nil))

	partitionsErr := &stubOffsetClient{partitionsErr: errors.New("metadata")}
	require.ErrorContains(t, runReplay(context.Background(), cfg, partitionsErr, consumer, nil), "get partitions")
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderingEvents, limit: 1, execute: true, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, *kafka.Producer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), cfg), "deps failed")

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(dlqMessage(0, 0))},
	}
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndSucceed()

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, *kafka.Producer, error) {
		return client, consumer, producer, nil
	}
	require.NoError(t, run(context.Background(), cfg))
	require.True(t, client.closed)
	require.True(t, consumer.closed)
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(dlqMessage(0, 0))},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, *kafka.Producer, error) {
		return client, consumer, nil, nil
	}

	withFlagArgs(t, []string{"-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}, main)
	require.True(t, client.closed)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func newMockProducer(t *testing.T) (*kafka.Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return kafka.NewProducerFromSync(mockProducer, log.WithField("component", "dlq-reprocess-test")), mockProducer
}

func dlqMessage(partition int32, offset int64) []*sarama.ConsumerMessage {
	return []*sarama.ConsumerMessage{{
		Partition: partition,
		Offset:    offset,
		Value:     []byte(orderDLQValue),
	}}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}
