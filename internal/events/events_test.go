package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(ListenerFunc(func(e Event) { got = append(got, "first:"+string(e.Type)) }))
	bus.Subscribe(ListenerFunc(func(e Event) { got = append(got, "second:"+string(e.Type)) }))

	bus.Publish(Event{Type: JobCreated, JobID: "job-1"})
	bus.Publish(Event{Type: JobStarted, JobID: "job-1"})

	assert.Equal(t, []string{
		"first:job:created",
		"second:job:created",
		"first:job:started",
		"second:job:started",
	}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(ListenerFunc(func(Event) { count++ }))

	bus.Publish(Event{Type: JobProgress})
	unsubscribe()
	bus.Publish(Event{Type: JobProgress})

	assert.Equal(t, 1, count)
}

func TestBus_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(ListenerFunc(func(Event) { panic("boom") }))
	bus.Subscribe(ListenerFunc(func(e Event) { received = e }))

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: JobFailed, JobID: "job-1"})
	})
	assert.Equal(t, "job-1", received.JobID)
	assert.False(t, received.OccurredAt.IsZero())
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: JobCreated})
	})
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestAMQPPublisher_PublishesJSONByEventType(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "sync.events", "topic").Return(nil)
	ch.On("PublishWithContext", "sync.events", "job:completed", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var e Event
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			return false
		}
		return msg.ContentType == "application/json" && e.JobID == "job-1" && e.Result != nil && e.Result.Success
	})).Return(nil)

	publisher, err := newAMQPPublisher(ch, "sync.events", testLogger())
	require.NoError(t, err)

	publisher.HandleEvent(Event{Type: JobCompleted, JobID: "job-1", Result: &models.SyncResult{Success: true}})

	ch.AssertExpectations(t)
}

func TestAMQPPublisher_BrokerErrorsAreSwallowed(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "sync.events", "topic").Return(nil)
	ch.On("PublishWithContext", "sync.events", "job:failed", mock.Anything).Return(errors.New("channel closed"))
	ch.On("Close").Return(nil)

	publisher, err := newAMQPPublisher(ch, "sync.events", testLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		publisher.HandleEvent(Event{Type: JobFailed, JobID: "job-1"})
	})
	assert.NoError(t, publisher.Close())
	ch.AssertExpectations(t)
}

func TestAMQPPublisher_DeclareFailure(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "sync.events", "topic").Return(errors.New("access refused"))

	_, err := newAMQPPublisher(ch, "sync.events", testLogger())
	assert.Error(t, err)
}
