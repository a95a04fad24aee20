/*Package telemetry publishes acquisition events to an MQTT broker.

A Pump is a bridge.Observer.  Observe never blocks the acquisition; events
are queued on a buffered channel and dropped when it is full.  Run drains the
queue to a Publisher until its context is cancelled:

	pub, err := telemetry.Dial(cfg)
	pump := telemetry.NewPump(pub, cfg.Topic, 256, nil)
	reg := bridge.New(sdk, bridge.WithObserver(pump))
	go pump.Run(ctx)
*/
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
)

// ErrTimeout is returned when the broker does not acknowledge in time
var ErrTimeout = errors.New("telemetry: timed out waiting for the broker")

// Config describes the broker connection
type Config struct {
	// Broker is the host:port of the broker
	Broker string `yaml:"Broker"`

	// Topic is the topic prefix; events go to Topic/<handle>/<kind>
	Topic string `yaml:"Topic"`

	// ClientID identifies this server to the broker
	ClientID string `yaml:"ClientID"`

	// QoS is the MQTT quality of service, 0, 1, or 2
	QoS byte `yaml:"QoS"`

	// Enabled turns publishing on
	Enabled bool `yaml:"Enabled"`
}

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTT is a Publisher backed by a paho client
type MQTT struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

// Dial connects to the broker.  The client reconnects on its own afterwards.
func Dial(cfg Config) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Printf("telemetry: lost connection to %s, reconnecting: %v", cfg.Broker, err)
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		return nil, ErrTimeout
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connecting to %s: %w", cfg.Broker, err)
	}
	return &MQTT{client: c, qos: cfg.QoS, timeout: 2 * time.Second}, nil
}

// Publish sends payload to topic and waits for the broker
func (m *MQTT) Publish(topic string, payload []byte) error {
	tok := m.client.Publish(topic, m.qos, false, payload)
	if !tok.WaitTimeout(m.timeout) {
		return ErrTimeout
	}
	return tok.Error()
}

// Close disconnects, allowing 250ms for in-flight messages
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

// Pump queues events and publishes them as JSON
type Pump struct {
	pub    Publisher
	topic  string
	events chan bridge.Event
	log    *log.Logger

	dropped   uint64
	published uint64
	failed    uint64
}

// NewPump returns a pump publishing to topic with room for depth queued
// events.  If l is nil the standard logger's output is used.
func NewPump(pub Publisher, topic string, depth int, l *log.Logger) *Pump {
	if depth < 1 {
		depth = 1
	}
	if l == nil {
		l = log.New(os.Stderr, "telemetry ", log.LstdFlags)
	}
	return &Pump{pub: pub, topic: topic, events: make(chan bridge.Event, depth), log: l}
}

// Observe queues e, or drops it if the queue is full
func (p *Pump) Observe(e bridge.Event) {
	select {
	case p.events <- e:
	default:
		atomic.AddUint64(&p.dropped, 1)
	}
}

// Topic is where e is published
func (p *Pump) Topic(e bridge.Event) string {
	return fmt.Sprintf("%s/%d/%s", p.topic, e.Handle, e.Kind)
}

// Run publishes queued events until ctx is done.  Publish failures are
// logged and counted, not returned.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-p.events:
			p.send(e)
		}
	}
}

func (p *Pump) send(e bridge.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.log.Printf("encoding %s event: %v", e.Kind, err)
		return
	}
	if err := p.pub.Publish(p.Topic(e), b); err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.log.Printf("publishing %s event to %s: %v", e.Kind, p.Topic(e), err)
		return
	}
	atomic.AddUint64(&p.published, 1)
}

// Counts reports how many events were published, failed to publish, and were dropped
func (p *Pump) Counts() (published, failed, dropped uint64) {
	return atomic.LoadUint64(&p.published), atomic.LoadUint64(&p.failed), atomic.LoadUint64(&p.dropped)
}
