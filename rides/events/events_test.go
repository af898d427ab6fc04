package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/ridesbot/rides/ride"
)

type writerMock struct{ mock.Mock }

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return m.Called(msgs).Error(0)
}

func (m *writerMock) Close() error { return m.Called().Error(0) }

func sampleRide() ride.Ride {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return ride.Ride{
		ID: "r-1", OwnerID: 7, From: "Vake", To: "Airport", Capacity: 3,
		Status: ride.StatusActive, Version: 1, CreatedAt: at, UpdatedAt: at,
	}
}

func TestMessageKeyedByRide(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	msg, err := Message(For(RideCreated, sampleRide(), now))
	require.NoError(t, err)

	assert.Equal(t, []byte("r-1"), msg.Key)
	assert.Equal(t, now, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "ride.created", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, RideCreated, decoded.Type)
	assert.Equal(t, int64(7), decoded.OwnerID)
	require.NotNil(t, decoded.Ride)
	assert.Equal(t, "Airport", decoded.Ride.To)
}

func TestKafkaPublish(t *testing.T) {
	w := new(writerMock)
	k := &Kafka{writer: w, topic: "rides", timeout: time.Second}

	w.On("WriteMessages", mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "r-1"
	})).Return(nil).Once()
	require.NoError(t, k.Publish(context.Background(), For(RideCancelled, sampleRide(), time.Now())))

	boom := errors.New("broker down")
	w.On("WriteMessages", mock.Anything).Return(boom).Once()
	err := k.Publish(context.Background(), For(RideDeleted, sampleRide(), time.Now()))
	assert.ErrorIs(t, err, boom)

	w.On("Close").Return(nil)
	assert.NoError(t, k.Close())
	w.AssertExpectations(t)
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(Config{Topic: "rides"})
	assert.Error(t, err)
	_, err = NewKafka(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
