package di

import (
	"encoding/binary"
	"time"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/utils/log"
)

// RecoveredLedgers is what a replay learned from the journal records.
type RecoveredLedgers struct {
	Records int
	Bytes   int64
	// LastEntry is the greatest entry id seen per ledger. Meta entries are not counted.
	LastEntry map[int64]int64
}

func newRecoveredLedgers() *RecoveredLedgers {
	return &RecoveredLedgers{LastEntry: map[int64]int64{}}
}

// Process implements journal.Scanner. Records shorter than the ledger and entry
// id prefix are counted but not attributed to a ledger.
func (r *RecoveredLedgers) Process(_ int, _ int64, entry []byte) error {
	r.Records++
	r.Bytes += int64(len(entry))
	if len(entry) < 16 {
		return nil
	}
	ledgerID := int64(binary.BigEndian.Uint64(entry[:8]))
	entryID := int64(binary.BigEndian.Uint64(entry[8:16]))
	if entryID < 0 {
		return nil
	}
	if last, ok := r.LastEntry[ledgerID]; !ok || entryID > last {
		r.LastEntry[ledgerID] = entryID
	}
	return nil
}

// ReplayJournal replays j from its last mark and logs what it found.
func ReplayJournal(j *journal.Journal) error {
	start := time.Now()
	rec := newRecoveredLedgers()
	log.Info("replaying journal %s from %v", j.Dir(), j.LastLogMark().CurMark())
	if err := j.Replay(rec); err != nil {
		return err
	}
	log.Info("replayed %d records (%d bytes) of %d ledgers from journal %s in %s",
		rec.Records, rec.Bytes, len(rec.LastEntry), j.Dir(), time.Since(start))
	return nil
}
