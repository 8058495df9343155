package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/spark-backend/internal/config"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := New(SessionJoined, "g1", at).WithSession("s1", "h1")

	b, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "session.joined" || m["user_id"] != "g1" || m["session_id"] != "s1" || m["peer_id"] != "h1" {
		t.Fatalf("unexpected envelope: %s", b)
	}
	if m["id"] == "" || m["occurred_at"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected id/timestamp: %s", b)
	}
}

func TestEncode_OmitsEmptySessionFields(t *testing.T) {
	b, _ := Encode(New(QueueEnqueued, "u1", time.Now()))
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["session_id"]; ok {
		t.Fatalf("session_id should be omitted: %s", b)
	}
	if _, ok := m["peer_id"]; ok {
		t.Fatalf("peer_id should be omitted: %s", b)
	}
}

func TestNopAndRecorder(t *testing.T) {
	ctx := context.Background()
	if err := (Nop{}).Publish(ctx, New(QueueDequeued, "u", time.Now())); err != nil {
		t.Fatalf("Nop.Publish: %v", err)
	}

	r := NewRecorder(1)
	_ = r.Publish(ctx, New(QueueEnqueued, "a", time.Now()))
	_ = r.Publish(ctx, New(QueueEnqueued, "b", time.Now())) // dropped, buffer full
	got := r.Drain()
	if len(got) != 1 || got[0].UserID != "a" {
		t.Fatalf("unexpected drained events: %+v", got)
	}
	if len(r.Drain()) != 0 {
		t.Fatalf("drain should empty the recorder")
	}
}

func TestKafkaPublisher_SendsKeyedMessage(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "matchmaking" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "h1" {
			return errors.New("wrong key " + string(key))
		}
		val, _ := msg.Value.Encode()
		var e Event
		if err := json.Unmarshal(val, &e); err != nil || e.Type != SessionCreated {
			return errors.New("unexpected value " + string(val))
		}
		return nil
	})

	p := NewKafkaPublisherFromProducer(mp, "matchmaking")
	if err := p.Publish(context.Background(), New(SessionCreated, "h1", time.Now()).WithSession("s1", "")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.Publish(context.Background(), New(SessionCreated, "h1", time.Now())); err == nil {
		t.Fatalf("publish after close should fail")
	}
}

func TestKafkaPublisher_PropagatesProducerError(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherFromProducer(mp, "matchmaking")
	defer p.Close()
	if err := p.Publish(context.Background(), New(QueueEnqueued, "u1", time.Now())); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
}

func TestRedisPublisher_UnreachableServer(t *testing.T) {
	p := NewRedisPublisher(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}, "spark.matchmaking")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Publish(ctx, New(QueueEnqueued, "u1", time.Now())); err == nil {
		t.Fatalf("expected publish to fail without a server")
	}
	if err := p.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail without a server")
	}
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(config.EventsConfig{Backend: "none"})
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("none: got %T", p)
	}

	p, err = FromConfig(config.EventsConfig{Backend: "redis", RedisAddr: "127.0.0.1:1", Channel: "c"})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	if _, ok := p.(*RedisPublisher); !ok {
		t.Fatalf("redis: got %T", p)
	}
	_ = p.Close()

	if _, err := FromConfig(config.EventsConfig{Backend: "nats"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
