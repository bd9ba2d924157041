package journal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

func TestCheckpoint_Compare(t *testing.T) {
	t.Parallel()
	a := journal.NewLogMarkCheckpoint(journal.LogMark{LogFileID: 1, LogFileOffset: 100})
	b := journal.NewLogMarkCheckpoint(journal.LogMark{LogFileID: 1, LogFileOffset: 200})
	c := journal.NewLogMarkCheckpoint(journal.LogMark{LogFileID: 2, LogFileOffset: 0})

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, c.Compare(b))
	assert.Equal(t, 0, a.Compare(a))

	for _, cp := range []journal.Checkpoint{a, b, c} {
		assert.Equal(t, 1, cp.Compare(journal.MinCheckpoint))
		assert.Equal(t, -1, cp.Compare(journal.MaxCheckpoint))
		assert.Equal(t, -1, journal.MinCheckpoint.Compare(cp))
		assert.Equal(t, 1, journal.MaxCheckpoint.Compare(cp))
	}
	assert.Equal(t, -1, journal.MinCheckpoint.Compare(journal.MaxCheckpoint))
	assert.Equal(t, 0, journal.MaxCheckpoint.Compare(journal.MaxCheckpoint))
}

func compactionJournal(t *testing.T, maxBackup int, lastMarkDirs ...string) (*journal.Journal, string, []int64) {
	t.Helper()
	dir := t.TempDir()
	ids := make([]int64, 10)
	for i := range ids {
		ids[i] = int64(i + 1)
		writeJournalFile(t, dir, ids[i], wal.V6)
	}
	cfg := testConfig(dir)
	cfg.MaxBackupJournals = maxBackup
	cfg.LastMarkDirs = lastMarkDirs
	j, err := journal.New(cfg, nil)
	require.Nil(t, err)
	return j, dir, ids
}

func TestCheckpointComplete_Compact(t *testing.T) {
	t.Parallel()
	j, dir, ids := compactionJournal(t, 1)

	mark := journal.LogMark{LogFileID: ids[6], LogFileOffset: 0}
	require.Nil(t, j.CheckpointComplete(journal.NewLogMarkCheckpoint(mark), true))

	// ids[0..4] go, ids[5] is kept as backup
	assert.Equal(t, ids[5:], journal.ListJournalIDs(dir, nil))
	persisted, err := journal.ReadLastMark(dir)
	require.Nil(t, err)
	assert.Equal(t, mark, persisted)
	assert.Equal(t, mark, j.LastLogMark().RolledMark())
}

func TestCheckpointComplete_NoCompact(t *testing.T) {
	t.Parallel()
	j, dir, ids := compactionJournal(t, 0)

	mark := journal.LogMark{LogFileID: ids[9], LogFileOffset: 512}
	require.Nil(t, j.CheckpointComplete(journal.NewLogMarkCheckpoint(mark), false))

	assert.Equal(t, ids, journal.ListJournalIDs(dir, nil))
	persisted, err := journal.ReadLastMark(dir)
	require.Nil(t, err)
	assert.Equal(t, mark, persisted)
}

func TestCheckpointComplete_IgnoresOtherCheckpoints(t *testing.T) {
	t.Parallel()
	j, dir, ids := compactionJournal(t, 0)

	require.Nil(t, j.CheckpointComplete(journal.MaxCheckpoint, true))
	assert.Equal(t, ids, journal.ListJournalIDs(dir, nil))
	_, err := os.Stat(filepath.Join(dir, journal.LastMarkFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointComplete_PersistFailureKeepsFiles(t *testing.T) {
	t.Parallel()
	markDir := filepath.Join(t.TempDir(), "marks")
	j, dir, ids := compactionJournal(t, 0, markDir)
	// the last mark can no longer be written once its directory is a plain file
	require.Nil(t, os.RemoveAll(markDir))
	require.Nil(t, os.WriteFile(markDir, nil, 0o644))

	mark := journal.LogMark{LogFileID: ids[9], LogFileOffset: 0}
	assert.NotNil(t, j.CheckpointComplete(journal.NewLogMarkCheckpoint(mark), true))
	assert.Equal(t, ids, journal.ListJournalIDs(dir, nil))
	assert.Equal(t, journal.LogMark{}, j.LastLogMark().RolledMark())
}

func TestJournal_NewCheckpointSnapshotsMark(t *testing.T) {
	t.Parallel()
	j, _, _ := compactionJournal(t, 0)

	j.SetLastLogMark(4, 1024)
	cp := j.NewCheckpoint()
	j.SetLastLogMark(5, 0)

	lcp, ok := cp.(journal.LogMarkCheckpoint)
	require.True(t, ok)
	assert.Equal(t, journal.LogMark{LogFileID: 4, LogFileOffset: 1024}, lcp.Mark())
	assert.Equal(t, -1, cp.Compare(j.NewCheckpoint()))
}
