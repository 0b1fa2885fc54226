package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"
	"vpool/pkg/store/mysql"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *model.WorkerEvent {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.WorkerEvent{
		EventID:  "evt-1",
		ChangeID: "1714557600000-0",
		WorkerID: "worker-1",
		Type:     model.WorkerEventModify,
		Source:   constants.SourceInvitation,
		Before: &model.WorkerRecord{
			ID:               "worker-1",
			Status:           constants.WorkerStatusAvailable,
			AssignedStageArn: constants.UnassignedStage,
		},
		After: &model.WorkerRecord{
			ID:               "worker-1",
			Status:           constants.WorkerStatusInvited,
			TaskID:           "vp-abcde",
			AssignedStageArn: "arn:stage/1",
			StageEndpoints:   map[string]string{"whip": "https://whip"},
		},
		At: now,
	}
}

func TestWebhookSubscriber_Deliver(t *testing.T) {
	var received model.WorkerEvent
	var eventHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		eventHeader = r.Header.Get("X-Event-Id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sub := NewWebhookSubscriber(server.URL)
	require.NoError(t, sub.Deliver(context.Background(), testEvent()))

	assert.Equal(t, "evt-1", eventHeader)
	assert.Equal(t, "worker-1", received.WorkerID)
	assert.Equal(t, constants.WorkerStatusInvited, received.After.Status)
}

func TestWebhookSubscriber_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookSubscriber(server.URL).Deliver(context.Background(), testEvent())
	assert.Error(t, err)
}

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	token   *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.qos = qos
	p.payload, _ = payload.([]byte)
	return p.token
}

func TestMQTTSubscriber_Deliver(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: true}}
	sub := newMQTTSubscriber(pub, "vpool/workers/", 1)

	require.NoError(t, sub.Deliver(context.Background(), testEvent()))
	assert.Equal(t, "vpool/workers/worker-1", pub.topic)
	assert.Equal(t, byte(1), pub.qos)

	var decoded model.WorkerEvent
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	assert.Equal(t, "evt-1", decoded.EventID)
}

func TestMQTTSubscriber_Failures(t *testing.T) {
	tests := []struct {
		name  string
		token *fakeToken
	}{
		{name: "timeout", token: &fakeToken{done: false}},
		{name: "broker error", token: &fakeToken{done: true, err: errors.New("not authorized")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := newMQTTSubscriber(&fakePublisher{token: tt.token}, "vpool/workers", 0)
			assert.Error(t, sub.Deliver(context.Background(), testEvent()))
		})
	}
}

type fakeEventWriter struct {
	rows []*mysql.WorkerEvent
}

func (w *fakeEventWriter) Create(_ context.Context, event *mysql.WorkerEvent) error {
	w.rows = append(w.rows, event)
	return nil
}

func TestAuditSubscriber_Deliver(t *testing.T) {
	writer := &fakeEventWriter{}
	sub := &AuditSubscriber{events: writer}

	require.NoError(t, sub.Deliver(context.Background(), testEvent()))
	require.Len(t, writer.rows, 1)

	row := writer.rows[0]
	assert.Equal(t, "evt-1", row.EventID)
	assert.Equal(t, string(constants.WorkerStatusAvailable), row.PrevStatus)
	assert.Equal(t, string(constants.WorkerStatusInvited), row.Status)
	assert.Equal(t, "arn:stage/1", row.StageArn)
	assert.Equal(t, "vp-abcde", row.TaskID)
}
