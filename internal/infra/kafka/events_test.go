package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/infra/config"
)

func newTestPublisher(t *testing.T, check mocks.ValueChecker) (*EventPublisher, *Producer) {
	t.Helper()

	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = false
	mock := mocks.NewAsyncProducer(t, cfg)
	mock.ExpectInputWithCheckerFunctionAndSucceed(check)

	producer := newProducer(mock, "sombreando.accounts", zaptest.NewLogger(t))
	publisher := NewEventPublisher(producer, config.AppSettings{Name: "sombreando-accounts", Env: "test"}, zaptest.NewLogger(t))
	return publisher, producer
}

func decodeEnvelope(value []byte) (map[string]any, error) {
	var envelope map[string]any
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return envelope, nil
}

func TestPublishUserRegistered(t *testing.T) {
	registeredAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	event := domain.UserRegisteredEvent{
		EventID:      "event-123",
		UserID:       "user-789",
		Username:     "ana",
		Email:        "ana@example.com",
		Plan:         domain.PlanFree,
		RegisteredAt: registeredAt,
	}

	publisher, producer := newTestPublisher(t, func(value []byte) error {
		envelope, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		if envelope["event_type"] != EventUserRegistered || envelope["event_id"] != "event-123" {
			return fmt.Errorf("unexpected envelope header: %v", envelope)
		}
		if envelope["timestamp"] != registeredAt.Format(time.RFC3339Nano) {
			return fmt.Errorf("unexpected timestamp: %v", envelope["timestamp"])
		}
		payload, ok := envelope["payload"].(map[string]any)
		if !ok {
			return fmt.Errorf("payload not a map: %T", envelope["payload"])
		}
		if payload["username"] != "ana" || payload["subscription_plan"] != "free" {
			return fmt.Errorf("unexpected payload: %v", payload)
		}
		metadata, _ := envelope["metadata"].(map[string]any)
		if metadata["service"] != "sombreando-accounts" || metadata["environment"] != "test" {
			return fmt.Errorf("unexpected metadata: %v", metadata)
		}
		return nil
	})

	if err := publisher.PublishUserRegistered(context.Background(), event); err != nil {
		t.Fatalf("PublishUserRegistered returned error: %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublishTwoFactorChanged(t *testing.T) {
	publisher, producer := newTestPublisher(t, func(value []byte) error {
		envelope, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		payload, _ := envelope["payload"].(map[string]any)
		if payload["enabled"] != true {
			return fmt.Errorf("expected enabled=true, got %v", payload["enabled"])
		}
		if envelope["event_id"] == "" {
			return fmt.Errorf("expected generated event id")
		}
		return nil
	})

	err := publisher.PublishTwoFactorChanged(context.Background(), domain.TwoFactorChangedEvent{
		UserID:    "user-1",
		Enabled:   true,
		ChangedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("PublishTwoFactorChanged returned error: %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestTopicName(t *testing.T) {
	producer := &Producer{prefix: "sombreando.accounts"}
	if got := producer.TopicName(EventAccountDeleted); got != "sombreando.accounts.user.deleted" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := producer.TopicName("sombreando.accounts.user.deleted"); got != "sombreando.accounts.user.deleted" {
		t.Fatalf("prefix must not be doubled, got %s", got)
	}
	if got := (&Producer{}).TopicName(EventEmailVerified); got != EventEmailVerified {
		t.Fatalf("unexpected topic %s", got)
	}
}

func TestStubPublisherMasksEmail(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	stub := NewStubPublisher(zap.New(core))

	if err := stub.PublishUserRegistered(context.Background(), domain.UserRegisteredEvent{UserID: "u", Email: "ana@example.com"}); err != nil {
		t.Fatalf("PublishUserRegistered returned error: %v", err)
	}

	entries := logs.FilterMessage("stub event published").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["email"] != "ana***@example.com" || fields["event_type"] != EventUserRegistered {
		t.Fatalf("unexpected fields %v", fields)
	}
}

var _ sarama.AsyncProducer = (*mocks.AsyncProducer)(nil)
