package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/sessionlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLogFeed(t *testing.T) {
	a := newTestAPI(t)
	a.device.log.Append("Scanning for devices...")

	server := httptest.NewServer(a.e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/session/log/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, MsgTypeConnected, readMessage(t, conn).Type)

	snapshot := readMessage(t, conn)
	require.Equal(t, MsgTypeSnapshot, snapshot.Type)
	var entries []sessionlog.Entry
	require.NoError(t, json.Unmarshal(snapshot.Payload, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Scanning for devices...", entries[0].Message)

	status := readMessage(t, conn)
	require.Equal(t, MsgTypeStatus, status.Type)
	assert.JSONEq(t, `{"posture":"good","monitoring":true,"connected":true,"today":{"date":"0001-01-01T00:00:00Z","good":0,"bad":0},"score":100}`, string(status.Payload))

	a.device.log.Append("Connected")
	live := readMessage(t, conn)
	require.Equal(t, MsgTypeLog, live.Type)
	var entry sessionlog.Entry
	require.NoError(t, json.Unmarshal(live.Payload, &entry))
	assert.Equal(t, "Connected", entry.Message)

	a.posture.statuses <- orchestrator.Status{Posture: orchestrator.Bad, Connected: true}
	changed := readMessage(t, conn)
	require.Equal(t, MsgTypeStatus, changed.Type)
	assert.Contains(t, string(changed.Payload), `"posture":"bad"`)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "upload"}))
	bad := readMessage(t, conn)
	require.Equal(t, MsgTypeError, bad.Type)
	assert.Contains(t, string(bad.Payload), "INVALID_TYPE")
}

func TestLogFeed_EndsWhenLogCloses(t *testing.T) {
	a := newTestAPI(t)
	server := httptest.NewServer(a.e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/session/log/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage(t, conn) // connected
	readMessage(t, conn) // snapshot
	readMessage(t, conn) // status

	a.device.log.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the server MUST close the feed once the log is closed")
}
