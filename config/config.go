package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/homeassistant"
	"github.com/victorjacobs/go-vallox/vallox"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "vallox.yaml"

type Configuration struct {
	Serial  Serial  `yaml:"serial"`
	Bus     Bus     `yaml:"bus"`
	Mqtt    Mqtt    `yaml:"mqtt"`
	Device  Device  `yaml:"device"`
	Http    Http    `yaml:"http"`
	Logging Logging `yaml:"logging"`
}

// Serial selects the transport: a local port, or a remote serial bridge when
// URL is set.
type Serial struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Bus struct {
	Address           vallox.Address `yaml:"address"`
	Device            vallox.Address `yaml:"device"`
	Timeout           time.Duration  `yaml:"timeout"`
	MaxAttempts       int            `yaml:"max_attempts"`
	PollDelay         time.Duration  `yaml:"poll_delay"`
	PassInterval      time.Duration  `yaml:"pass_interval"`
	EchoToPanels      bool           `yaml:"echo_to_panels"`
	ReconnectDelay    time.Duration  `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration  `yaml:"max_reconnect_delay"`
}

type Mqtt struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	ClientID        string        `yaml:"client_id"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type Device struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
}

// Http configures the status API. An empty Listen disables it.
type Http struct {
	Listen    string `yaml:"listen"`
	Advertise bool   `yaml:"advertise"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Configuration {
	b := bus.DefaultConfig()

	return &Configuration{
		Serial: Serial{
			BaudRate: 9600,
		},
		Bus: Bus{
			Address:           b.Address,
			Device:            b.Device,
			Timeout:           b.Timeout,
			MaxAttempts:       b.MaxAttempts,
			PollDelay:         b.PollDelay,
			PassInterval:      b.PassInterval,
			EchoToPanels:      b.EchoToPanels,
			ReconnectDelay:    b.ReconnectDelay,
			MaxReconnectDelay: b.MaxReconnectDelay,
		},
		Mqtt: Mqtt{
			Port:            1883,
			TopicPrefix:     "vallox",
			DiscoveryPrefix: "homeassistant",
			PublishInterval: time.Second,
		},
		Device: Device{
			ID:    "vallox",
			Name:  "Vallox",
			Model: "Digit SE",
		},
		Http: Http{
			Listen: ":8080",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfiguration reads filename on top of the defaults, applies
// environment overrides and validates the result.
func LoadConfiguration(filename string) (*Configuration, error) {
	configuration, err := ReadConfiguration(filename)
	if err != nil {
		return nil, err
	}
	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return configuration, nil
}

// ReadConfiguration is LoadConfiguration without validation, for commands
// that only need part of the file.
func ReadConfiguration(filename string) (*Configuration, error) {
	configuration := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := configuration.applyEnv(); err != nil {
		return nil, err
	}

	return configuration, nil
}

func (c *Configuration) applyEnv() error {
	overrides := map[string]*string{
		"VALLOX_SERIAL_PORT":   &c.Serial.Port,
		"VALLOX_SERIAL_URL":    &c.Serial.URL,
		"VALLOX_MQTT_HOST":     &c.Mqtt.Host,
		"VALLOX_MQTT_USERNAME": &c.Mqtt.Username,
		"VALLOX_MQTT_PASSWORD": &c.Mqtt.Password,
		"VALLOX_LOG_LEVEL":     &c.Logging.Level,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("VALLOX_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VALLOX_MQTT_PORT: %w", err)
		}
		c.Mqtt.Port = port
	}

	return nil
}

// Validate reports every problem at once.
func (c *Configuration) Validate() error {
	errs := []error{c.ValidateSerial()}

	if !c.Bus.Address.IsPanel() || c.Bus.Address.IsGroup() {
		errs = append(errs, fmt.Errorf("bus: address %v is not a panel address", c.Bus.Address))
	}
	if !c.Bus.Device.IsMainboard() || c.Bus.Device.IsGroup() {
		errs = append(errs, fmt.Errorf("bus: device %v is not a mainboard address", c.Bus.Device))
	}
	if c.Bus.Timeout <= 0 {
		errs = append(errs, errors.New("bus: timeout must be positive"))
	}
	if c.Bus.MaxAttempts < 1 {
		errs = append(errs, errors.New("bus: max_attempts must be at least 1"))
	}
	if c.Bus.PassInterval <= 0 {
		errs = append(errs, errors.New("bus: pass_interval must be positive"))
	}

	if c.Mqtt.Host == "" {
		errs = append(errs, errors.New("mqtt: host is required"))
	}
	if c.Mqtt.Port <= 0 || c.Mqtt.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt: invalid port %d", c.Mqtt.Port))
	}
	if c.Mqtt.TopicPrefix == "" || c.Mqtt.DiscoveryPrefix == "" {
		errs = append(errs, errors.New("mqtt: topic_prefix and discovery_prefix are required"))
	}
	if c.Mqtt.PublishInterval <= 0 {
		errs = append(errs, errors.New("mqtt: publish_interval must be positive"))
	}

	if c.Device.ID == "" {
		errs = append(errs, errors.New("device: id is required"))
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ValidateSerial checks only the transport settings.
func (c *Configuration) ValidateSerial() error {
	if c.Serial.Port == "" && c.Serial.URL == "" {
		return errors.New("serial: port or url is required")
	}
	if c.Serial.URL == "" && c.Serial.BaudRate <= 0 {
		return errors.New("serial: baud_rate must be positive")
	}
	return nil
}

func (c *Configuration) BusConfig() bus.Config {
	return bus.Config{
		Address:           c.Bus.Address,
		Device:            c.Bus.Device,
		Timeout:           c.Bus.Timeout,
		MaxAttempts:       c.Bus.MaxAttempts,
		PollDelay:         c.Bus.PollDelay,
		PassInterval:      c.Bus.PassInterval,
		EchoToPanels:      c.Bus.EchoToPanels,
		ReconnectDelay:    c.Bus.ReconnectDelay,
		MaxReconnectDelay: c.Bus.MaxReconnectDelay,
	}
}

// Dialer returns the transport selected by the serial section.
func (c *Configuration) Dialer() bus.Dialer {
	if c.Serial.URL == "" {
		return bus.SerialDialer(c.Serial.Port, c.Serial.BaudRate)
	}

	header := http.Header{}
	if c.Serial.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(c.Serial.Username + ":" + c.Serial.Password))
		header.Set("Authorization", "Basic "+credentials)
	}
	return bus.WebSocketDialer(c.Serial.URL, header)
}

func (c *Configuration) Topics() homeassistant.Topics {
	return homeassistant.Topics{
		Prefix:    c.Mqtt.TopicPrefix,
		Discovery: c.Mqtt.DiscoveryPrefix,
	}
}

func (c *Configuration) HomeAssistantDevice() homeassistant.Device {
	return homeassistant.Device{
		ID:    c.Device.ID,
		Name:  c.Device.Name,
		Model: c.Device.Model,
	}
}

// ClientOptions builds the broker connection. The will marks the device
// offline when the connection drops. Messages are delivered in order, so
// message handlers must not wait on tokens.
func (c *Configuration) ClientOptions() *mqtt.ClientOptions {
	m := c.Mqtt

	clientID := m.ClientID
	if clientID == "" {
		clientID = "go-vallox-" + uuid.NewString()
	}

	return mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%v:%d", m.Host, m.Port)).
		SetClientID(clientID).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetWill(c.Topics().Availability(), homeassistant.PayloadOffline, 1, true).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			log.Printf("MQTT reconnecting")
		})
}
