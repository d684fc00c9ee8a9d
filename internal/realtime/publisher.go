package realtime

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Publisher is the realtime event surface: capability changes are published
// as retained messages so late subscribers see the last-known state.
type Publisher interface {
	PublishCapability(plugin, device, capability string, value any) error
	Close()
}

// Options configures the MQTT connection.
type Options struct {
	BrokerURL    string
	Username     string
	PasswordFile string
	TopicPrefix  string
}

type event struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type mqttPublisher struct {
	client mqtt.Client
	prefix string
	log    *logrus.Entry
}

// NewMQTTPublisher connects to the broker with auto-reconnect enabled.
func NewMQTTPublisher(opts Options, log *logrus.Entry) (Publisher, error) {
	if opts.BrokerURL == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(randomClientID())
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectTimeout(10 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.PasswordFile != "" {
		password, err := os.ReadFile(opts.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		clientOpts.SetPassword(strings.TrimSpace(string(password)))
	}
	clientOpts.OnConnect = func(_ mqtt.Client) {
		log.Info("mqtt connected")
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	}

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	prefix := strings.Trim(opts.TopicPrefix, "/")
	if prefix == "" {
		prefix = "toonbridge"
	}

	return &mqttPublisher{client: client, prefix: prefix, log: log}, nil
}

func (p *mqttPublisher) PublishCapability(plugin, device, capability string, value any) error {
	payload, err := json.Marshal(event{Value: value, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/%s/%s", p.prefix, plugin, device, capability)
	if token := p.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		publishFailure.WithLabelValues(plugin).Inc()
		return token.Error()
	}
	publishSuccess.WithLabelValues(plugin).Inc()
	return nil
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}

// NopPublisher drops all events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishCapability(string, string, string, any) error { return nil }

func (NopPublisher) Close() {}

func randomClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "toonbridge-" + base64.RawURLEncoding.EncodeToString(nonce)
}
