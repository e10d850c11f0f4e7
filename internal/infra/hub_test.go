package infra

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishToRoom(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	room := SessionRoom("learner-1", "trail-1")
	a := &Conn{ID: "a", Send: make(chan []byte, 1)}
	b := &Conn{ID: "b", Send: make(chan []byte, 1)}
	h.Join(room, a)
	h.Join(SessionRoom("learner-2", "trail-1"), b)

	h.Publish(room, "progress", map[string]int{"frontier_index": 2})

	require.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 0)
	var msg HubMessage
	require.NoError(t, json.Unmarshal(<-a.Send, &msg))
	assert.Equal(t, "progress", msg.Event)
}

func TestHub_FullBufferDrops(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := &Conn{ID: "a", Send: make(chan []byte, 1)}
	h.Join("r", c)

	h.Publish("r", "x", 1)
	h.Publish("r", "x", 2)
	assert.Len(t, c.Send, 1)
}

func TestHub_LeaveAndShutdown(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	a := &Conn{ID: "a", Send: make(chan []byte, 1)}
	b := &Conn{ID: "b", Send: make(chan []byte, 1)}
	h.Join("r", a)
	h.Join("r", b)
	assert.Equal(t, 2, h.ConnectionCount())

	h.Leave("r", "a")
	assert.Equal(t, 1, h.ConnectionCount())

	h.Shutdown(context.Background())
	assert.Equal(t, 0, h.ConnectionCount())
	_, open := <-b.Send
	assert.False(t, open)
}
