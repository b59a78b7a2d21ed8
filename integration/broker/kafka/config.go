package kafka

import (
	"time"

	"github.com/veltio/realtime/core/broker"
)

// Config holds Kafka connection and topic-routing parameters with
// environment variable mapping.
type Config struct {
	Brokers           []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID           string        `env:"KAFKA_GROUP_ID" envDefault:"realtime-consumer"`
	DialTimeout       time.Duration `env:"KAFKA_DIAL_TIMEOUT" envDefault:"10s"`
	RequiredAcks      int           `env:"KAFKA_REQUIRED_ACKS" envDefault:"1"`
	CommitInterval    time.Duration `env:"KAFKA_COMMIT_INTERVAL" envDefault:"0"`
	MinBytes          int           `env:"KAFKA_MIN_BYTES" envDefault:"1"`
	MaxBytes          int           `env:"KAFKA_MAX_BYTES" envDefault:"1048576"`
	DefaultTopic      string        `env:"KAFKA_DEFAULT_TOPIC" envDefault:"realtime-events"`
	DefaultPartitions int           `env:"KAFKA_DEFAULT_PARTITIONS" envDefault:"8"`
	TopicRules        string        `env:"KAFKA_TOPIC_RULES"`
}

// Strategy builds the grouped topic strategy described by the config:
// TopicRules in the compact pattern=topic[:partitions] form, with
// DefaultTopic catching everything no rule matches.
func (c Config) Strategy() (broker.Strategy, error) {
	rules, err := broker.ParseGroupRules(c.TopicRules)
	if err != nil {
		return nil, err
	}
	return broker.NewGroupedStrategy(c.DefaultTopic, c.DefaultPartitions, rules...)
}
