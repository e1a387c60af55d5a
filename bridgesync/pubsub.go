package bridgesync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/utils"
)

func PublishSyncRun(ctx context.Context, runId uint, triggeredBy string) error {
	topicName := strings.TrimSpace(os.Getenv("BRIDGE_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "bridge-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.EnvBoolDefault("BRIDGE_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncPubSubPayload{
		RunId:       runId,
		TriggeredBy: triggeredBy,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts the push subscription delivery and runs the
// sync pipeline inline. Always responds 204: a retryable failure is
// handled by re-triggering a run, not by Pub/Sub redelivery.
func PubSubPushHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.EnvBoolDefault("ENABLE_BRIDGE_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		payload, ok := DecodeSyncPayload(envelope.Message.Data)
		if !ok {
			c.Status(204)
			return
		}

		_ = orchestrator.RunSync(c.Request.Context(), payload.RunId)
		c.Status(204)
	}
}
