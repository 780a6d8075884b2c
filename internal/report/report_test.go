package report

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunqar-kz/qoldau/internal/convo"
	"github.com/sunqar-kz/qoldau/internal/domain"
	"github.com/sunqar-kz/qoldau/internal/logging"
	"github.com/sunqar-kz/qoldau/internal/store"
)

func archivedFixture(t *testing.T) *store.MemorySessionStore {
	t.Helper()
	st := store.NewMemorySessionStore()

	_, err := st.GetOrCreate("alice", "tg")
	require.NoError(t, err)
	require.NoError(t, st.Update("alice", domain.Turn{Content: "hello", Reply: convo.ReplyGreeting}, domain.StateActive))
	require.NoError(t, st.Update("alice", domain.Turn{Content: "[voice note]", MediaRef: "/m/a.wav", Reply: convo.ReplyVoiceAck}, domain.StateActive))
	require.NoError(t, st.Update("alice", domain.Turn{Content: "bye", Reply: convo.ReplyGoodbye}, domain.StateClosed))
	require.NoError(t, st.Archive("alice"))

	_, err = st.GetOrCreate("bob", "tg")
	require.NoError(t, err)
	require.NoError(t, st.Update("bob", domain.Turn{Content: "operator", Reply: convo.ReplyEscalated}, domain.StateAwaitingAgent))
	require.NoError(t, st.Update("bob", domain.Turn{Role: "agent", Content: "done"}, domain.StateResolved))
	require.NoError(t, st.Archive("bob"))

	return st
}

func TestSummarize(t *testing.T) {
	st := archivedFixture(t)
	sessions, err := st.ListArchivedBetween(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	s := Summarize(sessions, time.Now().Add(-time.Hour), time.Now())
	assert.Equal(t, 2, s.Sessions)
	assert.Equal(t, 2, s.Users)
	assert.Equal(t, 5, s.Turns)
	assert.Equal(t, 1, s.VoiceNotes)
	assert.Equal(t, 1, s.Escalated)
	assert.Equal(t, 1, s.Resolved)
}

func TestGenerator_ProducesPDF(t *testing.T) {
	st := archivedFixture(t)
	gen := NewGenerator(st, logging.New(io.Discard, "debug"))

	var buf bytes.Buffer
	summary, err := gen.Generate(&buf, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Sessions)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	assert.Greater(t, buf.Len(), 500)
}

func TestGenerator_EmptyPeriod(t *testing.T) {
	gen := NewGenerator(store.NewMemorySessionStore(), logging.New(io.Discard, "debug"))

	var buf bytes.Buffer
	summary, err := gen.Generate(&buf, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, summary.Sessions)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}
