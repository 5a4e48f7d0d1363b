package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"opensprinkler/pkg/sprinkler"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	discoveryPrefix = "homeassistant"
	payloadOn       = "ON"
	payloadOff      = "OFF"
	payloadOnline   = "online"
	payloadOffline  = "offline"
)

var ErrNotConnected = errors.New("mqtt client not connected")

// MQTTClient is the subset of mqtt.Client used by the bridge.
type MQTTClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// NewMQTTClient connects to the broker in cfg. The bridge status topic is set
// as last will so subscribers see the hub going offline.
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("opensprinkler-hub")
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(statusTopic(cfg.TopicRoot), payloadOffline, 1, true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

func statusTopic(root string) string {
	return root + "/status"
}

// discoveryMsg is the Home Assistant MQTT discovery payload of a switch.
type discoveryMsg struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	CommandTopic      string          `json:"command_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	PayloadOn         string          `json:"payload_on"`
	PayloadOff        string          `json:"payload_off"`
	Icon              string          `json:"icon,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// MQTTBridge mirrors the hub entities to an MQTT broker using Home Assistant
// discovery, and turns entities on and off from command topics.
type MQTTBridge struct {
	client MQTTClient
	root   string
	device string
	host   *Host
	logger log.FieldLogger

	mu        sync.Mutex
	announced map[string]string // entity id -> announced name
}

func NewMQTTBridge(client MQTTClient, cfg MQTTConfig, device string, host *Host, logger log.FieldLogger) *MQTTBridge {
	return &MQTTBridge{
		client: client,
		root:   cfg.TopicRoot,
		device: device,
		host:      host,
		logger:    logger.WithField("component", "mqtt"),
		announced: map[string]string{},
	}
}

func (b *MQTTBridge) topic(id, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, id, leaf)
}

// Run announces the entities, subscribes to the command topics and publishes
// entity states after each poll cycle. It returns when ctx is cancelled.
func (b *MQTTBridge) Run(ctx context.Context) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}

	for _, e := range b.host.Entities() {
		if err := b.announce(e); err != nil {
			return err
		}
	}

	commandTopic := b.root + "/+/set"
	if token := b.client.Subscribe(commandTopic, 1, b.commandHandler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %v", commandTopic, token.Error())
	}
	defer b.client.Unsubscribe(commandTopic)

	if err := b.publish(statusTopic(b.root), payloadOnline); err != nil {
		return err
	}

	b.host.OnPoll(b.PublishStates)
	b.PublishStates(b.host.Entities())

	<-ctx.Done()
	return nil
}

func (b *MQTTBridge) announce(e Entity) error {
	id := e.UniqueID()
	msg := discoveryMsg{
		Name:              e.Name(),
		UniqueID:          id,
		StateTopic:        b.topic(id, "state"),
		CommandTopic:      b.topic(id, "set"),
		AvailabilityTopic: b.topic(id, "availability"),
		PayloadOn:         payloadOn,
		PayloadOff:        payloadOff,
		Icon:              "mdi:sprinkler-variant",
		Device: discoveryDevice{
			Identifiers:  []string{b.root + "_" + strings.ToLower(b.device)},
			Name:         b.device,
			Manufacturer: "OpenSprinkler",
			Model:        "OpenSprinkler",
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.publish(fmt.Sprintf("%s/switch/%s/config", discoveryPrefix, id), payload); err != nil {
		return err
	}

	b.mu.Lock()
	b.announced[id] = msg.Name
	b.mu.Unlock()
	return nil
}

// renamed reports whether the name of e differs from the announced one.
func (b *MQTTBridge) renamed(e Entity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.announced[e.UniqueID()]
	return ok && name != e.Name()
}

// PublishStates publishes the state and availability of each entity. An
// entity whose name changed since it was announced is announced again.
func (b *MQTTBridge) PublishStates(entities []Entity) {
	if !b.client.IsConnected() {
		b.logger.Debug("Skipping state publish, MQTT client not connected")
		return
	}

	for _, e := range entities {
		id := e.UniqueID()

		if b.renamed(e) {
			if err := b.announce(e); err != nil {
				b.logger.Errorf("Failed to announce %s: %v", id, err)
			}
		}

		availability := payloadOffline
		if e.Available() {
			availability = payloadOnline
		}
		if err := b.publish(b.topic(id, "availability"), availability); err != nil {
			b.logger.Errorf("Failed to publish availability of %s: %v", id, err)
			continue
		}

		state := sprinkler.StateOff
		if e.IsOn() {
			state = sprinkler.StateOn
		}
		if err := b.publish(b.topic(id, "state"), state.String()); err != nil {
			b.logger.Errorf("Failed to publish state of %s: %v", id, err)
		}
	}
}

func (b *MQTTBridge) publish(topic string, payload any) error {
	if token := b.client.Publish(topic, 1, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %v", topic, token.Error())
	}
	return nil
}

// commandHandler handles "ON"/"OFF" payloads on <root>/<id>/set.
func (b *MQTTBridge) commandHandler(client mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 || parts[len(parts)-1] != "set" {
		b.logger.Warnf("Unexpected command topic: %s", msg.Topic())
		return
	}
	id := parts[len(parts)-2]

	e, ok := b.host.Entity(id)
	if !ok {
		b.logger.Warnf("Command for unknown entity %s", id)
		return
	}

	state, err := sprinkler.ParseState(string(msg.Payload()))
	if err != nil {
		b.logger.Warnf("Invalid command for %s: %v", id, err)
		return
	}

	ctx := context.Background()
	if state == sprinkler.StateOn {
		err = e.TurnOn(ctx, 0)
	} else {
		err = e.TurnOff(ctx)
	}
	if err != nil {
		b.logger.Errorf("Command for %s failed: %v", id, err)
	}
}
