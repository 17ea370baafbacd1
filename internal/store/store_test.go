package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeremySu0818/GeminiAPIChat/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat_data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.GetOrCreateUser("alice")
	require.NoError(t, err)
	id2, err := s.GetOrCreateUser("alice")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other, err := s.GetOrCreateUser("bob")
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.GetOrCreateUser("alice")
	require.NoError(t, err)

	cid, err := s.CreateConversation(uid, model.DefaultTitle)
	require.NoError(t, err)

	conv, err := s.GetConversation(cid)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Equal(t, uid, conv.UserID)

	require.NoError(t, s.UpdateConversationTitle(cid, "Holiday plans"))
	conv, err = s.GetConversation(cid)
	require.NoError(t, err)
	assert.Equal(t, "Holiday plans", conv.Title)

	require.NoError(t, s.DeleteConversation(cid))
	conv, err = s.GetConversation(cid)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestListConversationsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.GetOrCreateUser("alice")
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 3; i++ {
		cid, err := s.CreateConversation(uid, model.DefaultTitle)
		require.NoError(t, err)
		ids = append(ids, cid)
		time.Sleep(time.Millisecond)
	}

	convs, err := s.ListConversations(uid, 0, 20)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, ids[2], convs[0].ID)
	assert.Equal(t, ids[0], convs[2].ID)

	page, err := s.ListConversations(uid, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestMessagesReplayAscending(t *testing.T) {
	s := newTestStore(t)
	uid, _ := s.GetOrCreateUser("alice")
	cid, _ := s.CreateConversation(uid, model.DefaultTitle)

	texts := []string{"one", "two", "three"}
	for _, txt := range texts {
		_, err := s.SaveMessage(cid, model.RoleUser, txt)
		require.NoError(t, err)
	}

	msgs, err := s.LoadMessages(cid, time.Time{}, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, texts[i], m.Text)
	}
	assert.True(t, msgs[0].Timestamp.Before(msgs[2].Timestamp) || msgs[0].Timestamp.Equal(msgs[2].Timestamp))
}

func TestLoadMessagesBeforeCursor(t *testing.T) {
	s := newTestStore(t)
	uid, _ := s.GetOrCreateUser("alice")
	cid, _ := s.CreateConversation(uid, model.DefaultTitle)

	var saved []model.Message
	for i := 0; i < 5; i++ {
		m, err := s.SaveMessage(cid, model.RoleUser, "msg")
		require.NoError(t, err)
		saved = append(saved, *m)
	}

	cursor := saved[3].Timestamp
	msgs, err := s.LoadMessages(cid, cursor, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "only messages strictly before the cursor")
	for _, m := range msgs {
		assert.True(t, m.Timestamp.Before(cursor))
	}

	capped, err := s.LoadMessages(cid, cursor, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestLoadMessagesKeepsNewestWhenCapped(t *testing.T) {
	s := newTestStore(t)
	uid, _ := s.GetOrCreateUser("alice")
	cid, _ := s.CreateConversation(uid, model.DefaultTitle)

	for i := 0; i < 4; i++ {
		_, err := s.SaveMessage(cid, model.RoleUser, string(rune('a'+i)))
		require.NoError(t, err)
	}

	msgs, err := s.LoadMessages(cid, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "c", msgs[0].Text)
	assert.Equal(t, "d", msgs[1].Text)
}

func TestDeleteUserMessagesRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	uid, _ := s.GetOrCreateUser("alice")
	other, _ := s.GetOrCreateUser("bob")

	cid1, _ := s.CreateConversation(uid, model.DefaultTitle)
	cid2, _ := s.CreateConversation(uid, model.DefaultTitle)
	keep, _ := s.CreateConversation(other, model.DefaultTitle)

	s.SaveMessage(cid1, model.RoleUser, "hi")
	s.SaveMessage(cid2, model.RoleModel, "hello")
	s.SaveMessage(keep, model.RoleUser, "untouched")

	require.NoError(t, s.DeleteUserMessages(uid))

	convs, err := s.ListConversations(uid, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, convs)

	msgs, err := s.LoadMessages(keep, time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
