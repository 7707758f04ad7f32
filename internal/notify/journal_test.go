package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordAndRecent(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	base := time.Now()
	for i, title := range []string{"first", "second", "third"} {
		err := j.Record(Attempt{
			MessageID: title,
			Level:     LevelInfo,
			Title:     title,
			Delivered: i != 1,
			At:        base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	recent, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Title)
	assert.Equal(t, "second", recent[1].Title)
	assert.False(t, recent[1].Delivered)

	all, err := j.Recent(10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
