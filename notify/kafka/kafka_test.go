package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/notify/kafka"
	"github.com/warp/leave-engine/timeoff"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func envelope() notify.Envelope {
	return notify.Envelope{
		ID:          "evt-1",
		Type:        timeoff.EventLeaveApproved,
		RecipientID: "alice",
		RequestID:   "req-1",
		OccurredAt:  time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		Data:        json.RawMessage(`{"request_id":"req-1","employee_id":"alice","days":5}`),
	}
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublisher_KeysByRequest(t *testing.T) {
	w := &mockWriter{}
	var sent []kafkago.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafkago.Message) }).
		Return(nil)

	err := kafka.NewPublisher(w).Publish(context.Background(), envelope())

	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "req-1", string(sent[0].Key))
	assert.Empty(t, sent[0].Topic)
	assert.Equal(t, timeoff.EventLeaveApproved, header(sent[0], "event_type"))
	assert.Equal(t, "alice", header(sent[0], "recipient_id"))

	var decoded notify.Envelope
	require.NoError(t, json.Unmarshal(sent[0].Value, &decoded))
	assert.Equal(t, "evt-1", decoded.ID)
	assert.JSONEq(t, string(envelope().Data), string(decoded.Data))
	w.AssertExpectations(t)
}

func TestPublisher_WrapsWriteError(t *testing.T) {
	w := &mockWriter{}
	down := errors.New("leader not available")
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(down)

	err := kafka.NewPublisher(w).Publish(context.Background(), envelope())

	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), timeoff.EventLeaveApproved)
}

func TestNewWriter_DefaultsTopic(t *testing.T) {
	w := kafka.NewWriter([]string{"localhost:9092"}, "")
	assert.Equal(t, kafka.DefaultTopic, w.Topic)
	assert.Equal(t, kafkago.RequireAll, w.RequiredAcks)
}
