package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubPublisher sends StatusEvents to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *slog.Logger
}

// NewPubSubPublisher connects to projectID and ensures topicID exists.
// credentialsJSON overrides Application Default Credentials when set.
func NewPubSubPublisher(ctx context.Context, projectID, topicID, credentialsJSON string, logger *slog.Logger) (*PubSubPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if topicID == "" {
		return nil, errors.New("pubsub topic is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
	}

	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create topic %q: %w", topicID, err)
		}
	}
	logger.Info("notify.pubsub.ready", "project_id", projectID, "topic", topicID)
	return &PubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, ev StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"audit_id":    ev.AuditID.String(),
			"contract_id": ev.ContractID,
			"status":      string(ev.Status),
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	p.logger.Debug("notify.pubsub.published", "audit_id", ev.AuditID, "status", ev.Status, "message_id", id)
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
