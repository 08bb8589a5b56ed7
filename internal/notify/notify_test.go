package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reservas/internal/events"
	"reservas/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     int
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if kind != amqp.ExchangeTopic || !durable {
		return errors.New("unexpected exchange settings")
	}
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

func newTestPublisher(ch *fakeChannel, dials *int) *AMQPPublisher {
	p := NewAMQPPublisher("amqp://test", "reservas.events", nil)
	p.dial = func(string) (amqpChannel, func() error, error) {
		*dials++
		return ch, func() error { return nil }, nil
	}
	return p
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	dials := 0
	p := newTestPublisher(ch, &dials)

	require.NoError(t, p.Publish(context.Background(), events.EventReservationCreated, []byte(`{"a":1}`)))
	require.NoError(t, p.Publish(context.Background(), events.EventReservationCancelled, []byte(`{"a":2}`)))

	assert.Equal(t, 1, dials, "channel is reused")
	assert.Equal(t, []string{"reservas.events"}, ch.declared)
	assert.Equal(t, []string{events.EventReservationCreated, events.EventReservationCancelled}, ch.keys)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
}

func TestAMQPPublisher_RedialsAfterFailure(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	dials := 0
	p := newTestPublisher(ch, &dials)

	assert.Error(t, p.Publish(context.Background(), "k", nil))
	assert.Equal(t, 1, ch.closed)

	ch.publishErr = nil
	assert.NoError(t, p.Publish(context.Background(), "k", nil))
	assert.Equal(t, 2, dials)
}

func TestAMQPPublisher_NoURL(t *testing.T) {
	p := NewAMQPPublisher("", "x", nil)
	assert.Error(t, p.Publish(context.Background(), "k", nil))
	assert.NoError(t, p.Close())
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, key string, body []byte) error {
	return m.Called(ctx, key, body).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyReservation(eventType string, p events.ReservationEventPayload) error {
	return m.Called(eventType, p).Error(0)
}

func samplePayload(t *testing.T) events.ReservationEventPayload {
	start := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	iv, err := models.NewTimeInterval(start, start.Add(time.Hour))
	require.NoError(t, err)
	return events.ReservationEventPayload{
		ReservationRow: models.ReservationRow{
			Reservation: models.Reservation{ID: "res-1", Title: "Seminario", Kind: models.KindAcademic, Interval: iv},
			RoomName:    "Aula 7",
		},
		OwnerChatID: 10,
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	payload := samplePayload(t)

	t.Run("both sinks", func(t *testing.T) {
		pub := new(mockPublisher)
		tg := new(mockNotifier)
		pub.On("Publish", ctx, events.EventReservationCreated, mock.MatchedBy(func(body []byte) bool {
			var msg Message
			return json.Unmarshal(body, &msg) == nil &&
				msg.EventType == events.EventReservationCreated &&
				msg.Reservation.RoomName == "Aula 7" &&
				msg.Text != ""
		})).Return(nil).Once()
		tg.On("NotifyReservation", events.EventReservationCreated, payload).Return(nil).Once()

		d := NewDispatcher(pub, tg, nil, nil)
		require.NoError(t, d.Dispatch(ctx, events.EventReservationCreated, payload))
		pub.AssertExpectations(t)
		tg.AssertExpectations(t)
	})

	t.Run("errors are joined", func(t *testing.T) {
		pub := new(mockPublisher)
		tg := new(mockNotifier)
		brokerErr := errors.New("broker down")
		tgErr := errors.New("telegram down")
		pub.On("Publish", ctx, mock.Anything, mock.Anything).Return(brokerErr).Once()
		tg.On("NotifyReservation", mock.Anything, mock.Anything).Return(tgErr).Once()

		err := NewDispatcher(pub, tg, nil, nil).Dispatch(ctx, events.EventReservationCancelled, payload)
		assert.ErrorIs(t, err, brokerErr)
		assert.ErrorIs(t, err, tgErr)
	})

	t.Run("no sinks", func(t *testing.T) {
		assert.NoError(t, NewDispatcher(nil, nil, nil, nil).Dispatch(ctx, events.EventReservationCreated, payload))
	})
}
