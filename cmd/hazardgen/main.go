// Command hazardgen publishes a hazard event to the source topic, for
// exercising the service end to end without an authority-facing producer.
//
// Usage:
//
//	go run ./cmd/hazardgen \
//	  -event Earthquake -lat 44.4268 -lon 26.1025 \
//	  -severity Severe -instruction "Evacuați zona afectată!"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	kafkaadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	topic := flag.String("topic", "hazard-events", "hazard source topic")
	id := flag.String("id", "", "hazard ID (generated when empty)")
	event := flag.String("event", "", "hazard kind, e.g. Earthquake")
	lat := flag.Float64("lat", 0, "latitude of the hazard")
	lon := flag.Float64("lon", 0, "longitude of the hazard")
	hasGeo := flag.Bool("geo", true, "whether the hazard carries coordinates")
	urgency := flag.String("urgency", "Immediate", "CAP urgency")
	severity := flag.String("severity", "Severe", "CAP severity")
	certainty := flag.String("certainty", "Observed", "CAP certainty")
	instruction := flag.String("instruction", "", "instruction text for affected clients")
	areaDesc := flag.String("area", "", "area description / zone")
	flag.Parse()

	if *event == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -event")
	}

	cfg := &config.Config{
		KafkaBrokers:     strings.Split(*brokers, ","),
		KafkaHazardTopic: *topic,
	}
	logger := observability.NewLogger("info", "text")

	record := domain.RawHazardRecord{
		ID:          *id,
		Event:       *event,
		Urgency:     *urgency,
		Severity:    *severity,
		Certainty:   *certainty,
		Instruction: *instruction,
		AreaDesc:    *areaDesc,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if record.ID == "" {
		record.ID = "hzd-" + uuid.NewString()
	}
	if *hasGeo {
		record.Lat = lat
		record.Lon = lon
	}

	writer := kafkaadapter.NewWriter(cfg, logger)
	defer writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := writer.PublishHazards(ctx, []domain.RawHazardRecord{record}); err != nil {
		return fmt.Errorf("publish hazard: %w", err)
	}

	logger.Info("hazard published",
		"id", record.ID,
		"event", record.Event,
		"topic", cfg.KafkaHazardTopic,
	)
	return nil
}
