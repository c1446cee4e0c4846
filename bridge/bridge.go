package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/homeassistant"
	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

// commandQueue bounds the commands received but not yet handled.
const commandQueue = 64

type queuedCommand struct {
	topic   string
	payload string
}

type Config struct {
	Topics          homeassistant.Topics
	Device          homeassistant.Device
	PublishInterval time.Duration
	Recorder        Recorder
}

// Bridge mirrors the store to MQTT and turns commands into bus writes.
type Bridge struct {
	cfg      Config
	mqtt     mqtt.Client
	ha       *homeassistant.Client
	registry *vallox.Registry
	store    *state.Store
	bus      Bus
	recorder Recorder
	commands chan queuedCommand

	mu           sync.Mutex
	published    map[string]string
	awaitingPass bool
	online       bool
}

func New(cfg Config, client mqtt.Client, registry *vallox.Registry, store *state.Store, b Bus) *Bridge {
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = time.Second
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Bridge{
		cfg:       cfg,
		mqtt:      client,
		ha:        homeassistant.NewClient(client, cfg.Topics, cfg.Device),
		registry:  registry,
		store:     store,
		bus:       b,
		recorder:  recorder,
		commands:  make(chan queuedCommand, commandQueue),
		published: make(map[string]string),
	}
}

// OnConnect runs after every (re)connect to the broker. Availability stays
// offline until the full poll pass it requests has completed.
func (b *Bridge) OnConnect() {
	log.Info("Connected to MQTT broker")

	if t := b.mqtt.Subscribe(b.cfg.Topics.Commands(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		b.enqueue(msg.Topic(), string(msg.Payload()))
	}); t.Wait() && t.Error() != nil {
		log.Errorf("MQTT subscribe error: %v", t.Error())
	}

	if err := b.ha.RegisterAll(b.registry.Variables()); err != nil {
		log.Errorf("Announcing entities failed: %v", err)
	}

	b.mu.Lock()
	b.awaitingPass = true
	b.mu.Unlock()
	b.bus.RequestFullPass()
}

// OnConnectionLost marks every value stale. The broker publishes the will
// message for availability.
func (b *Bridge) OnConnectionLost(err error) {
	n := b.store.MarkAllStale()
	log.WithError(err).Warnf("MQTT connection lost, %d values marked stale", n)

	b.mu.Lock()
	b.online = false
	b.mu.Unlock()
	b.recorder.AvailabilityChanged(false)
}

// enqueue hands a received command to Run. It runs on the paho router, which
// delivers messages one at a time, so it must not block.
func (b *Bridge) enqueue(topic, payload string) {
	select {
	case b.commands <- queuedCommand{topic, payload}:
	default:
		id, _ := b.cfg.Topics.EntityFromCommand(topic)
		log.WithField("entity", id).Warnf("Command queue full, dropping %q", payload)
		b.recorder.CommandHandled(id, errQueueFull)
	}
}

// drain handles every queued command without waiting for more.
func (b *Bridge) drain() {
	for {
		select {
		case c := <-b.commands:
			b.HandleCommand(c.topic, c.payload)
		default:
			return
		}
	}
}

// HandleCommand parses a payload received on a command topic and queues the
// write. Rejected commands are reported on the error topic and never touch
// the store.
func (b *Bridge) HandleCommand(topic, payload string) {
	id, ok := b.cfg.Topics.EntityFromCommand(topic)
	if !ok {
		log.Debugf("Ignoring message on %v", topic)
		return
	}
	logger := log.WithField("entity", id)

	err := b.command(id, payload)
	b.recorder.CommandHandled(id, err)
	if err != nil {
		logger.WithError(err).Warnf("Rejected command %q", payload)
		b.publishError(errorEvent{Entity: id, Operation: "command", Payload: payload, Error: err.Error()})
		return
	}
	logger.Infof("Queued command %q", payload)
}

func (b *Bridge) command(id, payload string) error {
	v, ok := b.registry.Lookup(id)
	if !ok {
		return &vallox.EncodingError{Variable: id, Err: vallox.ErrUnknownVariable}
	}

	value, err := ParseCommand(v, payload)
	if err != nil {
		return err
	}

	return b.bus.Write(id, value)
}

// Publish sends every value changed since the last call.
func (b *Bridge) Publish() {
	b.flush(false)
}

// flush publishes dirty entries. Payloads equal to the last one published
// are skipped unless force is set. Stale and out-of-range readings keep the
// last published state.
func (b *Bridge) flush(force bool) {
	if !b.mqtt.IsConnectionOpen() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.store.TakeDirty() {
		v, ok := b.registry.Lookup(e.ID)
		if !ok || e.Stale || e.Value.Suspect {
			continue
		}

		payload := FormatValue(v, e.Value)
		if last, ok := b.published[e.ID]; ok && last == payload && !force {
			continue
		}

		if t := b.mqtt.Publish(b.cfg.Topics.State(e.ID), 0, true, payload); t.Wait() && t.Error() != nil {
			log.WithField("entity", e.ID).Errorf("MQTT publishing failed: %v", t.Error())
			continue
		}
		b.published[e.ID] = payload
		b.recorder.StatePublished(e.ID)
	}
}

// HandleEvent reacts to a bus session event.
func (b *Bridge) HandleEvent(e bus.Event) {
	switch e.Kind {
	case bus.EventPassComplete:
		b.mu.Lock()
		ready := e.Full && b.awaitingPass
		if ready {
			b.awaitingPass = false
		}
		b.mu.Unlock()

		if ready {
			b.store.MarkAllDirty()
			b.flush(true)
			b.setAvailability(true)
		}
	case bus.EventTransportLost:
		log.WithError(e.Err).Warn("Bus connection lost")
		b.setAvailability(false)
	case bus.EventTransportRestored:
		log.Info("Bus connection restored")
		if err := b.ha.RegisterAll(b.registry.Variables()); err != nil {
			log.Errorf("Announcing entities failed: %v", err)
		}
		b.mu.Lock()
		b.awaitingPass = true
		b.mu.Unlock()
	case bus.EventRequestFailed:
		b.publishError(errorEvent{
			Entity:    e.Variable,
			Operation: e.Op.String(),
			Error:     errorString(e.Err),
		})
	case bus.EventWriteConfirmed:
		log.WithField("entity", e.Variable).Debug("Write confirmed")
	}
}

// Run publishes changes every publish interval and handles commands and
// session events until ctx is done. Commands are handled in arrival order.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PublishInterval)
	defer ticker.Stop()

	events := b.bus.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-b.commands:
			b.HandleCommand(c.topic, c.payload)
			b.drain()
		case e := <-events:
			b.HandleEvent(e)
		case <-ticker.C:
			b.Publish()
		}
	}
}

// Close marks the device offline and disconnects. It must be the last call
// on the bridge.
func (b *Bridge) Close() {
	b.setAvailability(false)
	b.mqtt.Disconnect(250)
}

// Online reports whether availability was last published as online.
func (b *Bridge) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *Bridge) setAvailability(online bool) {
	payload := homeassistant.PayloadOffline
	if online {
		payload = homeassistant.PayloadOnline
	}

	b.mu.Lock()
	b.online = online
	b.mu.Unlock()
	b.recorder.AvailabilityChanged(online)

	if t := b.mqtt.Publish(b.cfg.Topics.Availability(), 1, true, payload); t.Wait() && t.Error() != nil {
		log.Errorf("Publishing availability failed: %v", t.Error())
		return
	}
	log.Infof("Availability %v", payload)
}

func (b *Bridge) publishError(event errorEvent) {
	event.Time = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("error marshaling: %v", err)
		return
	}

	if t := b.mqtt.Publish(b.cfg.Topics.Errors(), 0, false, payload); t.Wait() && t.Error() != nil {
		log.Errorf("Publishing error event failed: %v", t.Error())
	}
}

func errorString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
