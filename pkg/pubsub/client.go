package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub certificate topic is required")
	errTopicMissing      = errors.New("pubsub topic does not exist")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// topicAdmin is the slice of the topic admin API the client needs.
type topicAdmin interface {
	topicExists(ctx context.Context, topic string) (bool, error)
	createTopic(ctx context.Context, topic string) error
}

type grpcTopicAdmin struct {
	client *pubsub.Client
}

func (g grpcTopicAdmin) topicExists(ctx context.Context, topic string) (bool, error) {
	_, err := g.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic})
	switch status.Code(err) {
	case codes.OK:
		return true, nil
	case codes.NotFound:
		return false, nil
	}
	return false, err
}

func (g grpcTopicAdmin) createTopic(ctx context.Context, topic string) error {
	_, err := g.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// Client owns the Pub/Sub connection and the certificate lifecycle topic.
type Client struct {
	client *pubsub.Client
	admin  topicAdmin
	topic  string
}

// NewClient connects and checks the certificate topic, creating it when
// cfg.CreateTopic is set (emulator runs).
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	topic := topicResourceName(gcp.ProjectID, cfg.CertificateTopic)
	if topic == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, admin: grpcTopicAdmin{client: psClient}, topic: topic}
	if err := c.ensureTopic(ctx, cfg.CreateTopic); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) ensureTopic(ctx context.Context, create bool) error {
	exists, err := c.admin.topicExists(ctx, c.topic)
	switch {
	case err != nil:
		return fmt.Errorf("checking topic %s: %w", c.topic, err)
	case exists:
		return nil
	case !create:
		return fmt.Errorf("%w: %s", errTopicMissing, c.topic)
	}
	if err := c.admin.createTopic(ctx, c.topic); err != nil {
		return fmt.Errorf("creating topic %s: %w", c.topic, err)
	}
	return nil
}

// CertificatePublisher returns an ordering-enabled publisher for the
// certificate topic; events of one certificate share an ordering key.
func (c *Client) CertificatePublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	pub := c.client.Publisher(c.topic)
	pub.EnableMessageOrdering = true
	return pub
}

// Ping reports whether the certificate topic is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errNotInitialized
	}
	return c.ensureTopic(ctx, false)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// topicResourceName expands a bare topic id to its resource name. Full
// resource names pass through; a bare id without a project yields "".
func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	projectID = strings.TrimSpace(projectID)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case projectID == "":
		return ""
	}
	return "projects/" + projectID + "/topics/" + name
}
