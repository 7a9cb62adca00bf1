package consumption

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/nightwatt/nightwatt/pkg/log"
)

// Meter exposes the daily energy totals the planner records once per day.
// Both values are cumulative since local midnight.
type Meter interface {
	// DailyConsumptionKWH returns today's consumption and whether a reading
	// has been received.
	DailyConsumptionKWH() (float64, bool)

	// DailySolarKWH returns today's solar production and whether a reading
	// has been received.
	DailySolarKWH() (float64, bool)
}

// MQTTMeter implements Meter by subscribing to an energy meter publishing
// daily totals over MQTT. Payloads are plain numbers in kWh.
type MQTTMeter struct {
	broker           string
	username         string
	password         string
	consumptionTopic string
	solarTopic       string

	client mqtt.Client

	mu              sync.Mutex
	consumptionKWH  float64
	consumptionSeen bool
	solarKWH        float64
	solarSeen       bool
}

var _ Meter = (*MQTTMeter)(nil)

// Configured sets up flags for the MQTT meter and returns the instance.
// An empty broker disables the meter; the planner then always uses the
// configured fallback consumption.
func Configured() *MQTTMeter {
	m := &MQTTMeter{}
	broker := lflag.String("mqtt-broker", "", "MQTT broker address (host:port), empty disables the meter")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	consumptionTopic := lflag.String("mqtt-consumption-topic", "energy/daily/consumption", "topic publishing today's consumption in kWh")
	solarTopic := lflag.String("mqtt-solar-topic", "energy/daily/solar", "topic publishing today's solar production in kWh")

	lflag.Do(func() {
		m.broker = *broker
		m.username = *username
		m.password = *password
		m.consumptionTopic = *consumptionTopic
		m.solarTopic = *solarTopic
	})

	return m
}

// Enabled reports whether a broker is configured.
func (m *MQTTMeter) Enabled() bool {
	return m.broker != ""
}

// Connect connects to the broker and subscribes to the configured topics.
// Reconnects and resubscribes are handled internally.
func (m *MQTTMeter) Connect(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.broker)
	opts.SetClientID("nightwatt-meter")
	opts.SetUsername(m.username)
	opts.SetPassword(m.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		m.subscribe(ctx, client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	})

	m.client = mqtt.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection.
func (m *MQTTMeter) Disconnect() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}

func (m *MQTTMeter) subscribe(ctx context.Context, client mqtt.Client) {
	subs := map[string]mqtt.MessageHandler{
		m.consumptionTopic: func(_ mqtt.Client, msg mqtt.Message) {
			m.handleReading(ctx, msg, &m.consumptionKWH, &m.consumptionSeen)
		},
		m.solarTopic: func(_ mqtt.Client, msg mqtt.Message) {
			m.handleReading(ctx, msg, &m.solarKWH, &m.solarSeen)
		},
	}
	for topic, handler := range subs {
		if topic == "" {
			continue
		}
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			log.Ctx(ctx).ErrorContext(
				ctx,
				"failed to subscribe",
				slog.String("topic", topic),
				slog.Any("error", token.Error()),
			)
			continue
		}
		log.Ctx(ctx).InfoContext(ctx, "subscribed to meter topic", slog.String("topic", topic))
	}
}

// handleReading parses a plain numeric payload and stores it under the lock.
func (m *MQTTMeter) handleReading(ctx context.Context, msg mqtt.Message, value *float64, seen *bool) {
	kwh, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to parse meter payload",
			slog.String("topic", msg.Topic()),
			slog.String("payload", string(msg.Payload())),
			slog.Any("error", err),
		)
		return
	}
	m.mu.Lock()
	*value = kwh
	*seen = true
	m.mu.Unlock()
}

// DailyConsumptionKWH implements Meter.
func (m *MQTTMeter) DailyConsumptionKWH() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumptionKWH, m.consumptionSeen
}

// DailySolarKWH implements Meter.
func (m *MQTTMeter) DailySolarKWH() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solarKWH, m.solarSeen
}
