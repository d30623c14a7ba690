// Package natsstore publishes relay messages to a NATS JetStream stream.
package natsstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

const (
	// StreamName is the JetStream stream holding relay messages.
	StreamName = "RELAY_MESSAGES"
	// SubjectPrefix prefixes the per-room subject.
	SubjectPrefix = "relay.messages."
	// SubjectAll matches every room subject.
	SubjectAll = SubjectPrefix + ">"
)

// Subject returns the subject for roomID. Room ids may contain characters
// that are not valid in a subject token, so the id is base64url encoded.
func Subject(roomID string) string {
	return SubjectPrefix + base64.RawURLEncoding.EncodeToString([]byte(roomID))
}

// Store publishes messages with the message id as the JetStream dedupe id.
type Store struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Open connects to url and ensures the stream exists.
func Open(ctx context.Context, url string) (*Store, error) {
	nc, err := nats.Connect(url,
		nats.Name("roomrelay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	store, err := New(ctx, nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return store, nil
}

// New sets up JetStream on an existing connection.
func New(ctx context.Context, nc *nats.Conn) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Committed relay messages",
		Subjects:    []string{SubjectAll},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Printf("[persist] NATS stream %s ready", StreamName)
	return &Store{nc: nc, js: js}, nil
}

// Append implements the persistence appender.
func (s *Store) Append(ctx context.Context, msg relay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := s.js.Publish(ctx, Subject(msg.RoomID), data, jetstream.WithMsgID(msg.ID)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *Store) Close() error {
	return s.nc.Drain()
}
