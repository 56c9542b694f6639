package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoclaw/supervisor/internal/chatclient"
	"github.com/nanoclaw/supervisor/internal/mailbox"
)

func TestHandleMessageSendsPrefixedText(t *testing.T) {
	fake := chatclient.NewFake()
	h := &mailboxHandlers{chat: fake, assistantName: "Nanoclaw"}

	err := h.HandleMessage("main", mailbox.MessageAction{ChatID: 1, TopicID: 2, Text: "hello"})
	require.NoError(t, err)
	require.Len(t, fake.Texts, 1)
	require.Equal(t, "Nanoclaw: hello", fake.Texts[0].Text)
	require.Equal(t, int64(1), fake.Texts[0].ChatID)
	require.Equal(t, int64(2), fake.Texts[0].TopicID)
}

func TestHandleReactionSendsReaction(t *testing.T) {
	fake := chatclient.NewFake()
	h := &mailboxHandlers{chat: fake, assistantName: "Nanoclaw"}

	err := h.HandleReaction("main", mailbox.ReactionAction{ChatID: 1, MessageID: 9, Emoji: "👍"})
	require.NoError(t, err)
	require.Len(t, fake.Reactions, 1)
	require.Equal(t, "👍", fake.Reactions[0].Emoji)
}

func TestHandleServiceControlRejectsUnknownAction(t *testing.T) {
	h := &mailboxHandlers{}
	err := h.HandleServiceControl("main", mailbox.ServiceControlAction{Action: "reload"})
	require.Error(t, err)
}

func TestParseDebounceKeySplitsChatAndTopic(t *testing.T) {
	chatID, topicID := parseDebounceKey("123_456")
	require.Equal(t, int64(123), chatID)
	require.Equal(t, int64(456), topicID)
}

func TestParseDebounceKeyNegativeChatID(t *testing.T) {
	chatID, topicID := parseDebounceKey("-987_0")
	require.Equal(t, int64(-987), chatID)
	require.Equal(t, int64(0), topicID)
}

func TestParseDebounceKeyMalformedReturnsZero(t *testing.T) {
	chatID, topicID := parseDebounceKey("garbage")
	require.Equal(t, int64(0), chatID)
	require.Equal(t, int64(0), topicID)
}
