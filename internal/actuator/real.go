package actuator

import (
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/circulatord/internal/errors"
	"codeberg.org/mutker/circulatord/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	retryInterval  = 5 * time.Second
)

// Bridge is the MQTT-backed Commander. It also subscribes to the
// inbound presence and enable topics and forwards them as Events.
type Bridge struct {
	client paho.Client
	cfg    Config
	events chan<- Event
}

// NewBridge connects to the broker and subscribes to the inbound
// topics. Inbound messages are delivered on the events channel; the
// channel should be buffered so broker callbacks never stall on the
// dispatch loop.
func NewBridge(cfg Config, events chan<- Event) (*Bridge, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{cfg: cfg, events: events}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetOnConnectHandler(b.subscribe)

	b.client = paho.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errFactory.WithMessage(errors.ErrInitFailed, "mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	return b, nil
}

// subscribe (re)establishes the inbound subscriptions. Registered as
// the on-connect handler so subscriptions survive reconnects.
func (b *Bridge) subscribe(client paho.Client) {
	subs := map[string]paho.MessageHandler{
		b.cfg.presenceTopic(): b.handlePresence,
		b.cfg.enableTopic():   b.handleEnable,
	}

	for topic, handler := range subs {
		token := client.Subscribe(topic, 1, handler)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			logger.Error().
				Str("topic", topic).
				AnErr("error", token.Error()).
				Msg("Failed to subscribe")

			continue
		}
		logger.Debug().Str("topic", topic).Msg("Subscribed")
	}
}

func (b *Bridge) handlePresence(_ paho.Client, msg paho.Message) {
	room := strings.TrimPrefix(msg.Topic(), b.cfg.presenceTopicBase())
	active, ok := ParseBool(string(msg.Payload()))
	if !ok || room == "" || strings.Contains(room, "/") {
		logger.Warn().
			Str("topic", msg.Topic()).
			Str("payload", string(msg.Payload())).
			Msg("Ignoring malformed presence message")

		return
	}

	b.events <- Event{Kind: EventPresence, Room: room, Active: active, At: time.Now()}
}

func (b *Bridge) handleEnable(_ paho.Client, msg paho.Message) {
	active, ok := ParseBool(string(msg.Payload()))
	if !ok {
		logger.Warn().
			Str("payload", string(msg.Payload())).
			Msg("Ignoring malformed enable message")

		return
	}

	b.events <- Event{Kind: EventEnable, Active: active, At: time.Now()}
}

// SetPump commands the pump relay. QoS 1: a lost OFF command would
// leave the pump stuck on.
func (b *Bridge) SetPump(on bool) error {
	return b.publish(b.cfg.pumpTopic(), FormatBool(on), false)
}

// PublishStatus publishes the retained status gauges.
func (b *Bridge) PublishStatus(status Status) error {
	publishes := []struct {
		topic   string
		payload string
	}{
		{b.cfg.stateTopic(), status.State},
		{b.cfg.priorityTopic(), FormatBool(status.PriorityActive)},
		{b.cfg.runSecondsTopic(), strconv.Itoa(status.RunSeconds)},
		{b.cfg.cycleCountTopic(), strconv.Itoa(status.CycleCount)},
	}

	for _, p := range publishes {
		if err := b.publish(p.topic, p.payload, true); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bridge) publish(topic, payload string, retained bool) error {
	errFactory := errors.New()

	token := b.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errFactory.WithMessage(errors.ErrTimeout, "publish timeout: "+topic)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	b.client.Disconnect(uint(time.Second.Milliseconds()))

	return nil
}
