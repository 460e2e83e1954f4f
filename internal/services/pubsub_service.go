package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"engram/internal/models"
)

// PubSubService fans memory events out across instances over Redis pub/sub.
// Locally published events go out on the owner's channel; events arriving
// from other instances are re-delivered to the local event bus so WebSocket
// subscribers see the whole deployment, not one process.
type PubSubService struct {
	redis      *RedisService
	bus        *EventBusService
	pubsub     *redis.PubSub
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// pubSubEnvelope wraps an event with its source instance for loop prevention
type pubSubEnvelope struct {
	InstanceID string             `json:"instance_id"`
	Event      models.MemoryEvent `json:"event"`
}

// NewPubSubService creates the cross-instance event bridge
func NewPubSubService(redisService *RedisService, bus *EventBusService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		bus:        bus,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to all owner event channels and wires the local bus's
// broadcast hook
func (s *PubSubService) Start() error {
	client := s.redis.Client()

	s.pubsub = client.PSubscribe(s.ctx, "memory:*:events")

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	s.bus.SetBroadcast(s.forward)
	go s.processMessages()

	log.Printf("✅ [PUBSUB] Cross-instance event bridge started (instance: %s)", s.instanceID)
	return nil
}

// forward publishes one locally-originated event to Redis. Failures are
// logged and dropped; local delivery already happened.
func (s *PubSubService) forward(event models.MemoryEvent) {
	data, err := json.Marshal(&pubSubEnvelope{InstanceID: s.instanceID, Event: event})
	if err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to marshal event: %v", err)
		return
	}

	channel := "memory:" + event.UserID + ":events"
	if err := s.redis.Publish(s.ctx, channel, data); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to publish to %s: %v", channel, err)
	}
}

// processMessages re-delivers events from other instances to the local bus
func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *PubSubService) handleMessage(msg *redis.Message) {
	var envelope pubSubEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message on %s: %v", msg.Channel, err)
		return
	}

	// Skip messages from this instance (avoid loops)
	if envelope.InstanceID == s.instanceID {
		return
	}

	s.bus.PublishLocal(envelope.Event.UserID, envelope.Event)
}

// Stop stops the pub/sub bridge
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
