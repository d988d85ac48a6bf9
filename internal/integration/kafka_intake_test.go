//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/couchcryptid/hazard-alert-service/internal/dispatch"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/registry"
)

const testHazardTopic = "test-hazard-events"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka launches a single-node Kafka container and returns its broker
// address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "resolve kafka brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic via the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	controllerConn, err := kafkago.Dial("tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func testConfig(broker string) *config.Config {
	return &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaHazardTopic: testHazardTopic,
		KafkaGroupID:     fmt.Sprintf("test-intake-%d", time.Now().UnixNano()),
		BatchSize:        50,
	}
}

type memoryLog struct {
	mu      sync.Mutex
	records []domain.AlertRecord
}

func (m *memoryLog) Append(_ context.Context, record domain.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryLog) snapshot() []domain.AlertRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AlertRecord(nil), m.records...)
}

type staticProfiles struct {
	profiles []domain.ClientProfile
}

func (s *staticProfiles) All(_ context.Context) ([]domain.ClientProfile, error) {
	return s.profiles, nil
}

type memoryChannel struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *memoryChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *memoryChannel) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

// TestKafkaReaderWriter verifies that the hazard Writer and Reader round-trip
// a record through a real broker, with offsets committable per message.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testHazardTopic)
	cfg := testConfig(broker)

	lat, lon := 44.4268, 26.1025
	record := domain.RawHazardRecord{
		ID:        "hzd-integration-1",
		Event:     "Earthquake",
		Lat:       &lat,
		Lon:       &lon,
		Severity:  "Severe",
		CreatedAt: "2025-03-04T10:00:00Z",
	}

	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.PublishHazards(ctx, []domain.RawHazardRecord{record}))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from hazard topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("hzd-integration-1"), raw.Key)
	assert.Equal(t, testHazardTopic, raw.Topic)
	assert.Equal(t, "Earthquake", raw.Headers["event"])
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	hazard, err := domain.ParseRawEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "hzd-integration-1", hazard.ID)
	assert.True(t, hazard.HasGeo)
	assert.Equal(t, 44.4268, hazard.Geo.Lat)
}

// TestIntakeEndToEnd wires Reader, Runner, and Dispatcher against a real
// broker and verifies that a published hazard yields a logged alert and a
// live push, while a poison pill is skipped.
func TestIntakeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testHazardTopic)
	cfg := testConfig(broker)

	lat, lon := 44.4268, 26.1025
	valid, err := json.Marshal(domain.RawHazardRecord{
		ID:    "hzd-e2e-1",
		Event: "Flood",
		Lat:   &lat,
		Lon:   &lon,
	})
	require.NoError(t, err)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testHazardTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("good"), Value: valid},
	))

	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	reg := registry.New()
	ch := &memoryChannel{}
	reg.Register("client-1", ch)

	log := &memoryLog{}
	profiles := &staticProfiles{profiles: []domain.ClientProfile{
		{ClientID: "client-1", Points: []domain.Point{
			{Geo: domain.Geo{Lat: 44.43, Lon: 26.10}, Name: "Acasă"},
		}},
	}}

	metrics := observability.NewMetricsForTesting()
	d := dispatch.New(profiles, log, reg, discardLogger(), metrics)
	runner := dispatch.NewRunner(reader, d, discardLogger(), metrics, cfg.BatchSize)

	runCtx, runCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 1
	}, time.Minute, 100*time.Millisecond, "expected one logged alert")

	runCancel()
	require.NoError(t, <-errCh)

	records := log.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "client-1", records[0].ClientID)
	assert.Equal(t, "hzd-e2e-1", records[0].HazardID)
	assert.Equal(t, "Flood", records[0].Event)

	// One alert payload plus the refresh hint for the batch.
	received := ch.received()
	require.GreaterOrEqual(t, len(received), 2)

	var pushed domain.AlertRecord
	require.NoError(t, json.Unmarshal(received[0], &pushed))
	assert.Equal(t, records[0].ID, pushed.ID)
	assert.JSONEq(t, `{"refresh":true}`, string(received[len(received)-1]))

	assert.NoError(t, runner.CheckReadiness(context.Background()))
}
