package natshelper

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect opens a NATS connection named after the module using it
func Connect(module string, url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(module),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] error connecting to NATS at %s: %w", module, url, err)
	}
	log.Printf("[%s] Connected to NATS at '%s'", module, conn.ConnectedUrl())
	return conn, nil
}

// Subscribe subscribes handler to a topic
func Subscribe(module string, conn *nats.Conn, topic string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(topic, handler)
	if err != nil {
		return nil, fmt.Errorf("[%s] error subscribing to topic '%s': %w", module, topic, err)
	}
	log.Printf("[%s] Subscribed to topic '%s'", module, topic)
	return sub, nil
}

// Close flushes pending messages before closing conn
func Close(module string, conn *nats.Conn) {
	if conn == nil {
		return
	}
	if err := conn.FlushTimeout(2 * time.Second); err != nil {
		log.Printf("[%s] Error flushing NATS connection: %v", module, err)
	}
	conn.Close()
}
