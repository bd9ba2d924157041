package journal

import (
	"os"

	"github.com/ledgerd/bookie/journal/wal"
	"github.com/ledgerd/bookie/metrics"
	"github.com/ledgerd/bookie/utils/log"
)

// Checkpoint is a point up to which everything was durable when it was taken.
type Checkpoint interface {
	// Compare returns -1, 0 or 1 when the receiver is before, at or after o.
	Compare(o Checkpoint) int
}

// boundCheckpoint sorts before or after every other checkpoint.
type boundCheckpoint int

const (
	MinCheckpoint boundCheckpoint = -1
	MaxCheckpoint boundCheckpoint = 1
)

func (b boundCheckpoint) Compare(o Checkpoint) int {
	if ob, ok := o.(boundCheckpoint); ok {
		switch {
		case b < ob:
			return -1
		case b > ob:
			return 1
		default:
			return 0
		}
	}
	return int(b)
}

// LogMarkCheckpoint is a checkpoint of a journal's LastLogMark.
type LogMarkCheckpoint struct {
	mark LogMark
}

func NewLogMarkCheckpoint(mark LogMark) LogMarkCheckpoint {
	return LogMarkCheckpoint{mark: mark}
}

func (c LogMarkCheckpoint) Mark() LogMark { return c.mark }

func (c LogMarkCheckpoint) Compare(o Checkpoint) int {
	switch other := o.(type) {
	case LogMarkCheckpoint:
		return c.mark.Compare(other.mark)
	case boundCheckpoint:
		return -int(other)
	default:
		return 0
	}
}

func (c LogMarkCheckpoint) String() string {
	return c.mark.String()
}

// NewCheckpoint snapshots the current durable position.
func (j *Journal) NewCheckpoint() Checkpoint {
	return LogMarkCheckpoint{mark: j.lastLogMark.MarkLog()}
}

// CheckpointComplete persists the checkpoint's mark. With compact, journal files
// older than the mark are deleted, except the newest MaxBackupJournals of them.
// Checkpoints that were not taken from a journal are ignored. Deleting a file
// is best-effort; only a failure to persist the mark is returned, in which case
// nothing is deleted.
func (j *Journal) CheckpointComplete(cp Checkpoint, compact bool) error {
	lcp, ok := cp.(LogMarkCheckpoint)
	if !ok {
		return nil
	}
	mark := lcp.Mark()

	if err := j.lastLogMark.RollLog(mark); err != nil {
		return err
	}
	if !compact {
		return nil
	}

	logs := ListJournalIDs(j.dir, func(id int64) bool { return id < mark.LogFileID })
	if len(logs) <= j.cfg.MaxBackupJournals {
		return nil
	}
	for _, id := range logs[:len(logs)-j.cfg.MaxBackupJournals] {
		fp := wal.FilePath(j.dir, id)
		if err := os.Remove(fp); err != nil {
			log.Warn("could not delete old journal file %s: %v", fp, err)
			continue
		}
		log.Info("garbage collected journal %s", fp)
		metrics.JournalCompactedFilesTotal.WithLabelValues(j.dir).Inc()
	}
	return nil
}
