package realtime

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"teamsync-server/internal/syncer"
)

const DefaultTopic = "teamsync.events"

// Deliverer receives events read back from the bus.
type Deliverer interface {
	Deliver(evt syncer.Event)
}

// Bus carries sync events between the request that committed them and the
// sockets that should hear about them. It implements syncer.EventSink.
type Bus struct {
	topic  string
	pub    message.Publisher
	sub    message.Subscriber
	closer func() error
}

// NewLocalBus keeps events inside this process.
func NewLocalBus(topic string) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, NewWatermillLogger(log.Logger))
	return &Bus{topic: topic, pub: ch, sub: ch, closer: ch.Close}
}

// NewRedisBus fans events out through a Redis stream so every server
// instance delivers to its own sockets. Each host reads with its own consumer
// group created at the stream tail, so history is not replayed on start.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, topic string) (*Bus, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()
	}
	group := "teamsync-" + host
	if err := ensureGroupAtTail(ctx, client, topic, group); err != nil {
		return nil, err
	}

	logger := NewWatermillLogger(log.Logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis event publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      host,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "redis event subscriber")
	}
	return &Bus{
		topic: topic,
		pub:   pub,
		sub:   sub,
		closer: func() error {
			perr := pub.Close()
			serr := sub.Close()
			if perr != nil {
				return perr
			}
			return serr
		},
	}, nil
}

func ensureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "create consumer group %s", group)
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, evt syncer.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	id := evt.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set("type", evt.Type)
	msg.SetContext(ctx)
	return errors.Wrap(b.pub.Publish(b.topic, msg), "publish event")
}

// Run forwards every event on the bus to d until ctx is done.
func (b *Bus) Run(ctx context.Context, d Deliverer) error {
	ch, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return errors.Wrap(err, "subscribe events")
	}
	log.Info().Str("topic", b.topic).Msg("realtime: forwarding events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt syncer.Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("realtime: dropping undecodable event")
				msg.Ack()
				continue
			}
			d.Deliver(evt)
			msg.Ack()
		}
	}
}

func (b *Bus) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}
