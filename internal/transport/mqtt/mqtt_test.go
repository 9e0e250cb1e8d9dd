package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/transport"
)

func TestBrokerAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "with port", input: "mqtt://localhost:1883", expected: "tcp://localhost:1883"},
		{name: "default port", input: "mqtt://broker.example.com", expected: "tcp://broker.example.com:1883"},
		{name: "custom port", input: "mqtt://10.0.0.5:8883", expected: "tcp://10.0.0.5:8883"},
		{name: "wrong scheme", input: "http://localhost:1883", wantErr: true},
		{name: "no scheme", input: "invalid-url", wantErr: true},
		{name: "no host", input: "mqtt://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := BrokerAddress(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidServerURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, addr)
		})
	}
}

func TestNewSession_InvalidURL(t *testing.T) {
	_, err := NewSession(Config{ServerURL: "http://localhost:1883"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT server URL must use mqtt:// scheme")
}

func TestNewSession_InvalidQoS(t *testing.T) {
	_, err := NewSession(Config{ServerURL: "mqtt://localhost", QoS: 3})
	assert.ErrorIs(t, err, ErrInvalidQoS)
}

func TestNewSession_Defaults(t *testing.T) {
	s, err := NewSession(Config{ServerURL: "mqtt://localhost"})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID())
	assert.Contains(t, s.config.ClientID, "switchsync-")
	assert.Equal(t, defaultQueryWindow, s.config.QueryWindow)
	assert.Equal(t, defaultInitialRetryDelay, s.config.InitialRetryDelay)
	assert.Equal(t, defaultMaxRetryDelay, s.config.MaxRetryDelay)
	assert.False(t, s.IsConnected())
}

func TestTopics(t *testing.T) {
	s, err := NewSession(Config{ServerURL: "mqtt://localhost", TopicPrefix: "home/"})
	require.NoError(t, err)

	assert.Equal(t, "home/lights/porch", s.topic("/lights/porch"))
	assert.Equal(t, "home/lights/porch/_query", s.queryTopic("lights/porch"))
	assert.Contains(t, s.replyTopic(), "home/_reply/"+s.ID()+"/")
	assert.NotEqual(t, s.replyTopic(), s.replyTopic())

	bare, err := NewSession(Config{ServerURL: "mqtt://localhost"})
	require.NoError(t, err)
	assert.Equal(t, "switch", bare.topic("switch"))
}

func TestOperationsRequireConnection(t *testing.T) {
	s, err := NewSession(Config{ServerURL: "mqtt://localhost", QueryWindow: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, s.Publish(ctx, "switch", transport.Message{}), transport.ErrNotConnected)

	_, err = s.Subscribe(ctx, "switch")
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	_, err = s.Query(ctx, "switch")
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Publish(ctx, "switch", transport.Message{}), transport.ErrClosed)
}

func TestReplyStream(t *testing.T) {
	r := newReplyStream()
	r.send(transport.Message{State: switchstate.On})
	r.close()
	r.close()
	r.send(transport.Message{State: switchstate.Off})

	var got []transport.Message
	for msg := range r.ch {
		got = append(got, msg)
	}
	require.Len(t, got, 1)
	assert.Equal(t, switchstate.On, got[0].State)
}
