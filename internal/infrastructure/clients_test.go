package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"deliverybot/internal/entities"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type slackCall struct {
	Method string
	Form   map[string]string
}

func newSlackAPI(t *testing.T, replies map[string]map[string]any) (*SlackClient, *[]slackCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []slackCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		method := r.URL.Path[1:]
		mu.Lock()
		calls = append(calls, slackCall{Method: method, Form: form})
		mu.Unlock()

		reply, ok := replies[method]
		if !ok {
			reply = map[string]any{"ok": true}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)

	client := NewSlackClient("xoxb-test", "", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	return client, &calls
}

func TestSlackClientPostMessage(t *testing.T) {
	client, calls := newSlackAPI(t, map[string]map[string]any{
		"chat.postMessage": {"ok": true, "channel": "C1", "ts": "1.0"},
	})

	blocks := []slack.Block{slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "hi", false, false), nil, nil)}
	require.NoError(t, client.PostMessage(context.Background(), "C1", "hi", blocks))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "chat.postMessage", call.Method)
	assert.Equal(t, "C1", call.Form["channel"])
	assert.Equal(t, "hi", call.Form["text"])
	assert.Contains(t, call.Form["blocks"], `"type":"section"`)
}

func TestSlackClientWrapsAPIErrors(t *testing.T) {
	client, _ := newSlackAPI(t, map[string]map[string]any{
		"chat.update": {"ok": false, "error": "message_not_found"},
		"views.open":  {"ok": false, "error": "expired_trigger_id"},
	})

	err := client.UpdateMessage(context.Background(), "C1", "1.0", "x", nil)
	require.Error(t, err)
	assert.True(t, entities.HasTextCode(err, entities.ErrorChatCall))

	err = client.OpenView(context.Background(), "trigger", slack.ModalViewRequest{Type: slack.VTModal})
	require.Error(t, err)
	assert.True(t, entities.HasTextCode(err, entities.ErrorChatCall))
}

func TestSlackClientIdentify(t *testing.T) {
	client, _ := newSlackAPI(t, map[string]map[string]any{
		"auth.test": {"ok": true, "user_id": "UBOT", "bot_id": "BBOT", "team": "Logistics"},
	})

	identity, err := client.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BotIdentity{UserID: "UBOT", BotID: "BBOT", Team: "Logistics"}, identity)
}
