package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/katasec/mssql-fixture/natshelper"
	"github.com/katasec/mssql-fixture/topics"
	"github.com/nats-io/nats.go"
)

const natsModule = "Events"

// NATSReporter publishes events as JSON on subjects under a common prefix
type NATSReporter struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSReporter returns a reporter publishing on conn
func NewNATSReporter(conn *nats.Conn, prefix string) *NATSReporter {
	return &NATSReporter{
		conn:   conn,
		prefix: prefix,
	}
}

// Report publishes e. Failures are logged, never returned.
func (r *NATSReporter) Report(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := MarshalJSON(e)
	if err != nil {
		log.Printf("[%s] %v", natsModule, err)
		return
	}

	subject := topics.Qualify(r.prefix, e.Subject)
	if err := r.conn.Publish(subject, data); err != nil {
		log.Printf("[%s] Error publishing event to '%s': %v", natsModule, subject, err)
	}
}

// Flush waits until published events have reached the server
func (r *NATSReporter) Flush() error {
	return r.conn.FlushTimeout(2 * time.Second)
}

// Watch subscribes to every event under prefix and passes decoded events to handler
func Watch(conn *nats.Conn, prefix string, handler func(subject string, e Event)) (*nats.Subscription, error) {
	return natshelper.Subscribe("Watch", conn, topics.All(prefix), func(msg *nats.Msg) {
		e, err := UnmarshalJSON[Event](msg.Data)
		if err != nil {
			log.Printf("[Watch] Ignoring message on '%s': %v", msg.Subject, err)
			return
		}
		handler(msg.Subject, e)
	})
}

// UnmarshalJSON unmarshals JSON data into a generic type T.
func UnmarshalJSON[T any](data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// MarshalJSON marshals a generic type T into JSON data.
func MarshalJSON[T any](value T) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
