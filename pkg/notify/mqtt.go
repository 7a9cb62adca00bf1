package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
)

// MQTTNotifier publishes events as JSON to an MQTT topic, typically picked
// up by a home automation system for user-facing delivery. The broker
// connection is made on first publish.
type MQTTNotifier struct {
	broker   string
	username string
	password string
	topic    string

	mu     sync.Mutex
	client mqtt.Client
}

var _ Notifier = (*MQTTNotifier)(nil)

// Configured sets up flags for notifications and returns a Notifier with
// dedup applied. An empty broker falls back to the log sink.
func Configured() Notifier {
	n := &MQTTNotifier{}
	broker := lflag.String("notify-mqtt-broker", "", "MQTT broker for notifications (host:port), empty logs instead")
	username := lflag.String("notify-mqtt-username", "", "MQTT username for notifications")
	password := lflag.String("notify-mqtt-password", "", "MQTT password for notifications")
	topic := lflag.String("notify-mqtt-topic", "nightwatt/events", "topic to publish notification events on")

	deduper := NewDeduper(n)
	var out struct{ Notifier }
	out.Notifier = deduper

	lflag.Do(func() {
		n.broker = *broker
		n.username = *username
		n.password = *password
		n.topic = *topic

		if n.broker == "" {
			out.Notifier = NewDeduper(LogNotifier{})
		}
	})

	return &out
}

func (n *MQTTNotifier) connect() (mqtt.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.broker)
	opts.SetClientID("nightwatt-notify")
	opts.SetUsername(n.username)
	opts.SetPassword(n.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to notification broker: %w", token.Error())
	}
	n.client = client
	return client, nil
}

// Disconnect closes the broker connection.
func (n *MQTTNotifier) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		n.client.Disconnect(250)
		n.client = nil
	}
}

// Notify implements Notifier.
func (n *MQTTNotifier) Notify(ctx context.Context, event Event) error {
	client, err := n.connect()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	token := client.Publish(n.topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish event: %w", token.Error())
	}
	return nil
}
