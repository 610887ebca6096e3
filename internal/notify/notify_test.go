// ABOUTME: Tests for contact relay formatting and the Matrix notifier
// ABOUTME: Runs the notifier against an httptest homeserver

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/platform-engine/internal/store"
)

func testMessage() *store.ContactMessage {
	return &store.ContactMessage{
		ID:       "m1",
		Name:     "Jane Doe",
		Email:    "jdoe@example.com",
		Subject:  "Cloud migration",
		Message:  "We would like a quote.",
		Language: "en",
	}
}

func TestFormatContact(t *testing.T) {
	text := FormatContact(testMessage())
	assert.Contains(t, text, "Jane Doe <jdoe@example.com>")
	assert.Contains(t, text, "Subject: Cloud migration")
	assert.True(t, strings.HasSuffix(text, "We would like a quote."))

	msg := testMessage()
	msg.Subject = ""
	msg.Message = strings.Repeat("x", maxMessageRunes+10)
	text = FormatContact(msg)
	assert.NotContains(t, text, "Subject:")
	assert.True(t, strings.HasSuffix(text, strings.Repeat("x", 10)+"..."))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel...", truncate("hello", 3))
	assert.Equal(t, "ಕನ್...", truncate("ಕನ್ನಡ", 3))
}

func TestMatrix_NotifyContact(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotAuth  string
		gotEvent map[string]any
	)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt1"}`))
	}))
	t.Cleanup(hs.Close)

	n, err := NewMatrix(MatrixConfig{
		Homeserver:  hs.URL,
		UserID:      "@bot:example.com",
		AccessToken: "syt_token",
		RoomID:      "!room:example.com",
	})
	require.NoError(t, err)

	require.NoError(t, n.NotifyContact(context.Background(), testMessage()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, gotPath, "/send/m.room.message/")
	assert.Equal(t, "Bearer syt_token", gotAuth)
	assert.Equal(t, "m.notice", gotEvent["msgtype"])
	assert.Contains(t, gotEvent["body"], "Jane Doe")
}

func TestMatrix_SendFailure(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
	}))
	t.Cleanup(hs.Close)

	n, err := NewMatrix(MatrixConfig{Homeserver: hs.URL, UserID: "@bot:example.com", AccessToken: "t", RoomID: "!r:example.com"})
	require.NoError(t, err)

	assert.Error(t, n.NotifyContact(context.Background(), testMessage()))
}

func TestNewMatrix_RequiresRoom(t *testing.T) {
	_, err := NewMatrix(MatrixConfig{Homeserver: "https://matrix.example.com"})
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	assert.NoError(t, n.NotifyContact(context.Background(), testMessage()))
}
