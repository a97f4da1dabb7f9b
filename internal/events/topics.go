package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// TopicClinicAudit carries every clinic audit event.
const TopicClinicAudit = "clinic.audit"

// EnsureTopics creates the audit topic when the broker does not have it yet.
func EnsureTopics(ctx context.Context, brokers []string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("events: create kafka client: %w", err)
	}
	defer kgoClient.Close()

	admin := kadm.NewClient(kgoClient)

	retention := "2592000000" // 30 days
	configs := map[string]*string{
		"retention.ms":   &retention,
		"cleanup.policy": ptr("delete"),
	}

	resp, err := admin.CreateTopics(ctx, 3, 1, configs, TopicClinicAudit)
	if err != nil {
		return fmt.Errorf("events: create topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil {
			if r.Err.Error() == "TOPIC_ALREADY_EXISTS" {
				logger.Info("topic already exists", zap.String("topic", r.Topic))
				continue
			}
			return fmt.Errorf("events: create topic %s: %w", r.Topic, r.Err)
		}
		logger.Info("topic created", zap.String("topic", r.Topic))
	}
	return nil
}

func ptr(s string) *string { return &s }
