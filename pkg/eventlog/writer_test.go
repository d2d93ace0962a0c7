package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriter_RoundTrip verifies entries survive the JSONL encoding.
func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	entries := []Entry{
		{Timestamp: time.Now().UTC().Truncate(time.Millisecond), EnvelopeID: "e1", To: "room:lobby", MsgKind: "user_message", Seq: 1, Effects: 3},
		{Timestamp: time.Now().UTC().Truncate(time.Millisecond), EnvelopeID: "e2", To: "agent:alice", MsgKind: "respond_to_message", Seq: 2, Effects: 4},
	}
	for i := range entries {
		require.NoError(t, w.WriteEntry(&entries[i]))
	}
	require.NoError(t, w.Close())

	got, err := ReadEntries(w.CurrentLogFile())
	require.Error(t, err, "closed writer reports no current file")

	files, err := ListLogFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	got, err = ReadEntries(files[0])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0].EnvelopeID, got[0].EnvelopeID)
	assert.Equal(t, entries[1].To, got[1].To)
	assert.Equal(t, uint64(2), got[1].Seq)
}

// TestWriter_AppendsAcrossReopens verifies reopening the same day appends.
func TestWriter_AppendsAcrossReopens(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w1.WriteEntry(&Entry{EnvelopeID: "a", Seq: 1}))
	require.NoError(t, w1.Close())

	w2, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w2.WriteEntry(&Entry{EnvelopeID: "b", Seq: 2}))
	path := w2.CurrentLogFile()
	require.NoError(t, w2.Close())

	got, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EnvelopeID)
	assert.Equal(t, "b", got[1].EnvelopeID)
}
