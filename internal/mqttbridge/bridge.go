package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/config"
	"github.com/joshp123/gohome-fpp/internal/entity"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	commandTimeout = 15 * time.Second
)

// client is the subset of mqtt.Client the bridge needs.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Registry is what the bridge mirrors and routes commands into.
type Registry interface {
	List() []entity.State
	Subscribe(buffer int) (<-chan entity.Event, func())
	Call(ctx context.Context, cmd entity.Command) error
}

// Bridge publishes entity states as retained messages under
// {prefix}/{entity_id}/state and routes {prefix}/{entity_id}/set payloads
// to entity commands.
type Bridge struct {
	client   client
	prefix   string
	registry Registry
	log      logrus.FieldLogger

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// New builds a bridge from config. It does not connect until Start.
func New(cfg *config.MQTTConfig, registry Registry, logger logrus.FieldLogger) (*Bridge, error) {
	if cfg == nil || cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	password := ""
	if cfg.PasswordFile != "" {
		secret, err := config.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		password = secret
	}

	b := &Bridge{
		prefix:   strings.Trim(cfg.TopicPrefix, "/"),
		registry: registry,
		log:      logger.WithField("component", "mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(_ mqtt.Client) {
		b.onConnect()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.log.WithError(err).Warn("mqtt connection lost")
	}
	b.client = mqtt.NewClient(opts)
	return b, nil
}

// Start connects and begins mirroring registry events until Close.
func (b *Bridge) Start(ctx context.Context) error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.log.WithField("broker_timeout", connectTimeout).Warn("mqtt connect still pending, retrying in background")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	events, unsubscribe := b.registry.Subscribe(256)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.mu.Lock()
	b.cancel = func() {
		cancel()
		unsubscribe()
	}
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				b.publishEvent(evt)
			}
		}
	}()
	return nil
}

// Close stops mirroring and disconnects.
func (b *Bridge) Close() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	b.client.Disconnect(250)
}

func (b *Bridge) onConnect() {
	topic := b.prefix + "/+/set"
	if token := b.client.Subscribe(topic, qos, b.handleMessage); token.Wait() && token.Error() != nil {
		b.log.WithError(token.Error()).WithField("topic", topic).Error("mqtt subscribe failed")
		return
	}
	b.log.WithField("topic", topic).Info("mqtt connected")
	for _, state := range b.registry.List() {
		b.publishState(state)
	}
}

func (b *Bridge) publishEvent(evt entity.Event) {
	switch evt.Type {
	case entity.EventRemoved:
		b.publish(StateTopic(b.prefix, evt.State.EntityID), []byte{})
	default:
		b.publishState(evt.State)
	}
}

func (b *Bridge) publishState(state entity.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		b.log.WithError(err).WithField("entity_id", state.EntityID).Warn("encode entity state failed")
		return
	}
	b.publish(StateTopic(b.prefix, state.EntityID), payload)
}

func (b *Bridge) publish(topic string, payload []byte) {
	token := b.client.Publish(topic, qos, true, payload)
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			b.log.WithError(token.Error()).WithField("topic", topic).Warn("mqtt publish failed")
		}
	}()
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	entityID, ok := ParseSetTopic(b.prefix, msg.Topic())
	if !ok {
		return
	}
	cmd, err := DecodeCommand(entityID, msg.Payload())
	logger := b.log.WithFields(logrus.Fields{"entity_id": entityID, "topic": msg.Topic()})
	if err != nil {
		logger.WithError(err).Warn("ignoring malformed mqtt command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := b.registry.Call(ctx, cmd); err != nil {
		logger.WithError(err).WithField("action", cmd.Action).Warn("mqtt command failed")
	}
}

// StateTopic is where an entity's state is published.
func StateTopic(prefix, entityID string) string {
	return prefix + "/" + entityID + "/state"
}

// ParseSetTopic extracts the entity id from {prefix}/{entity_id}/set.
func ParseSetTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	entityID, ok := strings.CutSuffix(rest, "/set")
	if !ok || entityID == "" || strings.Contains(entityID, "/") {
		return "", false
	}
	return entityID, true
}

// DecodeCommand accepts either a JSON object {"action": ..., "data": {...}}
// or a bare action such as "turn_on".
func DecodeCommand(entityID string, payload []byte) (entity.Command, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return entity.Command{}, fmt.Errorf("empty payload")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return entity.Command{EntityID: entityID, Action: trimmed}, nil
	}
	var body struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
		return entity.Command{}, fmt.Errorf("decode command: %w", err)
	}
	if body.Action == "" {
		return entity.Command{}, fmt.Errorf("action is required")
	}
	return entity.Command{EntityID: entityID, Action: body.Action, Data: body.Data}, nil
}
