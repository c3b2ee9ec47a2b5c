package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykute07/agentconnect/pkg/interaction"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/reasoning"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)

	st := &reasoning.State{
		Messages: []*message.Message{
			{Sender: "human-1", Content: "hello", Type: message.TypeText},
		},
		TopicChanged:        true,
		LastInteractionTime: time.Now().UTC().Truncate(time.Second),
		Subtasks:            []string{"step one"},
	}
	require.NoError(t, s.Save("thread-1", st))

	got, ok, err := s.Load("thread-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.TopicChanged, "topic_changed flag must survive the round trip")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, []string{"step one"}, got.Subtasks)
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Load("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("thread-1", &reasoning.State{Subtasks: []string{"old"}}))
	require.NoError(t, s.Save("thread-1", &reasoning.State{Subtasks: []string{"new"}}))

	got, ok, err := s.Load("thread-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, got.Subtasks)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("thread-1", &reasoning.State{}))
	require.NoError(t, s.Delete("thread-1"))

	_, ok, err := s.Load("thread-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_Conversations(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	err := s.SaveConversations(map[string]interaction.ConversationRecord{
		"peer-1": {PeerID: "peer-1", MessageCount: 3, LastMessageTime: now},
		"peer-2": {PeerID: "peer-2", MessageCount: 1, LastMessageTime: now},
	})
	require.NoError(t, err)

	got, err := s.LoadConversations()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got["peer-1"].MessageCount)
}
