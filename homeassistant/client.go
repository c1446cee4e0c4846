package homeassistant

import (
	"encoding/json"
	"fmt"
	"math"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/victorjacobs/go-vallox/vallox"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
)

// Device describes the ventilation unit all entities belong to.
type Device struct {
	ID    string
	Name  string
	Model string
}

type Client struct {
	mqtt   mqtt.Client
	topics Topics
	device Device
}

func NewClient(mqtt mqtt.Client, topics Topics, device Device) *Client {
	return &Client{
		mqtt:   mqtt,
		topics: topics,
		device: device,
	}
}

// RegisterAll announces every variable. It stops at the first failed publish.
func (h *Client) RegisterAll(vars []*vallox.Variable) error {
	for _, v := range vars {
		if err := h.Register(v); err != nil {
			return err
		}
	}
	log.Infof("Announced %d entities to Home Assistant", len(vars))

	return nil
}

// Register publishes the retained discovery config of v.
func (h *Client) Register(v *vallox.Variable) error {
	configuration, err := json.Marshal(h.configuration(v))
	if err != nil {
		return err
	}

	topic := h.topics.Config(component(v), h.uniqueId(v))
	if t := h.mqtt.Publish(topic, 1, true, configuration); t.Wait() && t.Error() != nil {
		return fmt.Errorf("announce %v: %w", v.ID, t.Error())
	}
	log.Debugf("Registered %v %v", component(v), v.ID)

	return nil
}

func (h *Client) uniqueId(v *vallox.Variable) string {
	return h.device.ID + "_" + v.ID
}

func component(v *vallox.Variable) vallox.Entity {
	if v.Entity != "" {
		return v.Entity
	}
	switch v.Kind {
	case vallox.Bit:
		if v.ReadOnly {
			return vallox.BinarySensor
		}
		return vallox.Switch
	case vallox.Enumerated:
		if v.ReadOnly {
			return vallox.Sensor
		}
		return vallox.Select
	default:
		if v.ReadOnly {
			return vallox.Sensor
		}
		return vallox.NumberEntity
	}
}

func (h *Client) configuration(v *vallox.Variable) entityConfiguration {
	c := entityConfiguration{
		UniqueId:            h.uniqueId(v),
		ObjectId:            h.uniqueId(v),
		Name:                v.Name,
		DeviceClass:         v.DeviceClass,
		Icon:                v.Icon,
		StateTopic:          h.topics.State(v.ID),
		UnitOfMeasurement:   v.Unit,
		AvailabilityTopic:   h.topics.Availability(),
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		Device: deviceConfiguration{
			Identifiers:  []string{h.device.ID},
			Name:         h.device.Name,
			Manufacturer: "Vallox",
			Model:        h.device.Model,
		},
	}
	if c.Name == "" {
		c.Name = v.ID
	}
	if v.Writable() {
		c.CommandTopic = h.topics.Command(v.ID)
	}

	switch component(v) {
	case vallox.Sensor:
		if v.Kind == vallox.Numeric {
			c.StateClass = "measurement"
		}
		if v.Kind == vallox.Enumerated {
			c.Options = v.Options()
		}
	case vallox.BinarySensor, vallox.Switch:
		c.PayloadOn = PayloadOn
		c.PayloadOff = PayloadOff
	case vallox.Select:
		c.Options = v.Options()
	case vallox.NumberEntity:
		lo, hi, step := v.Min, v.Max, math.Pow(10, -float64(v.Precision))
		c.Min, c.Max, c.Step = &lo, &hi, &step
		c.Mode = "box"
	}

	return c
}
