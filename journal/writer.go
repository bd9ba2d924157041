package journal

import (
	"fmt"
	"time"

	"github.com/ledgerd/bookie/journal/wal"
	"github.com/ledgerd/bookie/metrics"
	"github.com/ledgerd/bookie/utils/log"
)

// Reasons a group commit was triggered, used as metric labels.
const (
	flushMaxWait    = "max_wait"
	flushEntries    = "entries"
	flushBytes      = "bytes"
	flushEmptyQueue = "empty_queue"
	flushRotation   = "rotation"
	flushShutdown   = "shutdown"
)

// writer is the state owned by the journal goroutine.
type writer struct {
	j *Journal

	ch    *Channel
	logID int64

	pending      []*QueueEntry
	pendingBytes int64
}

func (w *writer) run() {
	defer w.j.exit()
	defer w.closeChannel()

	for {
		qe := w.poll()
		if qe != nil {
			metrics.JournalQueueLength.WithLabelValues(w.j.dir).Set(float64(len(w.j.queue)))
			if qe.kind == shutdownEntry {
				w.flush(flushShutdown)
				return
			}
			if err := w.append(qe); err != nil {
				log.Error("journal %s stops after an unrecoverable error: %v", w.j.dir, err)
				w.complete(EIO)
				w.resetPending()
				w.fail(qe)
				return
			}
		}
		if reason := w.flushReason(qe == nil); reason != "" {
			w.flush(reason)
		}
	}
}

// poll blocks for the next entry while nothing is pending. Otherwise it only
// waits for what is left of the max group wait of the oldest pending entry, and
// returns nil when that expired.
func (w *writer) poll() *QueueEntry {
	if len(w.pending) == 0 {
		return <-w.j.queue
	}

	wait := w.j.cfg.MaxGroupWait - time.Since(w.pending[0].enqueueTime)
	if w.j.cfg.FlushWhenQueueEmpty || wait <= 0 {
		select {
		case qe := <-w.j.queue:
			return qe
		default:
			return nil
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case qe := <-w.j.queue:
		return qe
	case <-timer.C:
		return nil
	}
}

func (w *writer) flushReason(timedOut bool) string {
	if len(w.pending) == 0 {
		return ""
	}
	cfg := &w.j.cfg
	switch {
	case cfg.BufferedEntriesThreshold > 0 && len(w.pending) >= cfg.BufferedEntriesThreshold:
		return flushEntries
	case cfg.BufferedWritesThreshold > 0 && w.pendingBytes >= cfg.BufferedWritesThreshold:
		return flushBytes
	case cfg.FlushWhenQueueEmpty && len(w.j.queue) == 0:
		return flushEmptyQueue
	case timedOut, time.Since(w.pending[0].enqueueTime) >= cfg.MaxGroupWait:
		return flushMaxWait
	default:
		return ""
	}
}

// append writes qe to the active journal file. Write failures are reported to
// the callbacks of the entries they affect. Failing to open a journal file is
// returned and leaves qe to the caller.
func (w *writer) append(qe *QueueEntry) error {
	if qe.kind == forceEntry {
		w.pending = append(w.pending, qe)
		return nil
	}

	size := wal.RecordSize(len(qe.payload))
	if err := w.ensureChannel(size); err != nil {
		return err
	}
	// older readers do not understand explicit LAC records
	if qe.entryID == MetaEntryIDLedgerExplicitLAC && w.ch.FormatVersion() < wal.V6 {
		w.pending = append(w.pending, qe)
		return nil
	}

	// keep room for a zero length after the record
	if err := w.ch.PreAllocIfNeeded(size + wal.LengthSize); err != nil {
		w.failChannel(err, qe)
		return nil
	}
	lenBuf := wal.EncodeLength(len(qe.payload))
	if _, err := w.ch.Write(lenBuf[:]); err != nil {
		w.failChannel(err, qe)
		return nil
	}
	if _, err := w.ch.Write(qe.payload); err != nil {
		w.failChannel(err, qe)
		return nil
	}

	w.pending = append(w.pending, qe)
	w.pendingBytes += size
	metrics.JournalAddEntryBytesTotal.WithLabelValues(w.j.dir).Add(float64(len(qe.payload)))
	return nil
}

// ensureChannel rolls to a new journal file when a record of size bytes would
// not fit in the active one.
func (w *writer) ensureChannel(size int64) error {
	if w.ch != nil && w.ch.Position() > w.ch.HeaderSize() &&
		w.ch.Position()+size > w.j.cfg.MaxJournalSize {
		w.flush(flushRotation)
		w.closeChannel()
	}
	if w.ch != nil {
		return nil
	}
	return w.openNext()
}

func (w *writer) openNext() error {
	cfg := &w.j.cfg
	nextID := w.logID + 1

	var replace *int64
	if cfg.ReuseFiles && cfg.Provider.SupportsReuse() {
		mark := w.j.lastLogMark.CurMark()
		retired := ListJournalIDs(w.j.dir, func(id int64) bool { return id < mark.LogFileID })
		if len(retired) > cfg.MaxBackupJournals {
			replace = &retired[0]
		}
	}

	ch, err := OpenChannel(w.j.dir, nextID, cfg.channelOptions(replace))
	if err != nil {
		return fmt.Errorf("open journal %x in %s: %w", nextID, w.j.dir, err)
	}
	w.logID = nextID
	w.ch = ch

	metrics.JournalRotationsTotal.WithLabelValues(w.j.dir).Inc()
	if ch.Reused() {
		metrics.JournalReusedFilesTotal.WithLabelValues(w.j.dir).Inc()
		log.Info("journal %s reused %x.txn as %s", w.j.dir, *replace, ch.Path())
	} else {
		log.Info("journal %s opened %s", w.j.dir, ch.Path())
	}
	return nil
}

// flush group-commits every pending entry and runs their callbacks in order.
// When all of them asked for ackBeforeSync they are acknowledged as soon as
// the bytes reached the OS, before the sync.
func (w *writer) flush(reason string) {
	if len(w.pending) == 0 {
		return
	}
	start := time.Now()

	ackBeforeSync := true
	for _, qe := range w.pending {
		if qe.kind == forceEntry || !qe.ackBeforeSync {
			ackBeforeSync = false
			break
		}
	}

	acked := false
	var err error
	if w.ch != nil {
		err = w.pad()
		if err == nil && ackBeforeSync {
			if err = w.ch.Flush(); err == nil {
				w.complete(EOK)
				acked = true
			}
		}
		if err == nil {
			var pos int64
			if pos, err = w.ch.ForceWrite(false); err == nil {
				w.j.lastLogMark.SetCurLogMark(w.logID, pos)
			}
		}
	}

	if err != nil {
		log.Error("journal %s failed to flush %d entries: %v", w.j.dir, len(w.pending), err)
		w.closeChannel()
	}
	if !acked {
		rc := EOK
		if err != nil {
			rc = EIO
		}
		w.complete(rc)
	}

	metrics.JournalFlushesTotal.WithLabelValues(w.j.dir, reason).Inc()
	metrics.JournalFlushDuration.WithLabelValues(w.j.dir).Observe(time.Since(start).Seconds())
	metrics.JournalFlushBatchSize.WithLabelValues(w.j.dir).Observe(float64(len(w.pending)))
	w.resetPending()
}

// pad ends a group commit on an alignment boundary. Only V5+ readers know padding records.
func (w *writer) pad() error {
	if w.ch.FormatVersion() < wal.V5 {
		return nil
	}
	rec := wal.PaddingRecord(w.ch.Position(), w.j.cfg.Alignment)
	if rec == nil {
		return nil
	}
	if err := w.ch.PreAllocIfNeeded(int64(len(rec)) + wal.LengthSize); err != nil {
		return err
	}
	_, err := w.ch.Write(rec)
	return err
}

func (w *writer) complete(rc int) {
	for _, qe := range w.pending {
		w.j.callbacks.dispatch(qe.completion(rc))
	}
	if rc != EOK {
		metrics.JournalCallbackFailuresTotal.WithLabelValues(w.j.dir).Add(float64(len(w.pending)))
	}
}

func (w *writer) fail(qe *QueueEntry) {
	w.j.callbacks.dispatch(qe.completion(EIO))
	metrics.JournalCallbackFailuresTotal.WithLabelValues(w.j.dir).Inc()
}

// failChannel fails the pending entries and qe, which never made it into the
// file, and drops the active file. The next entry opens a new one.
func (w *writer) failChannel(err error, qe *QueueEntry) {
	log.Error("journal %s failed to write ledger %d entry %d: %v", w.j.dir, qe.ledgerID, qe.entryID, err)
	w.complete(EIO)
	w.resetPending()
	w.fail(qe)
	w.closeChannel()
}

func (w *writer) resetPending() {
	for i := range w.pending {
		w.pending[i] = nil
	}
	w.pending = w.pending[:0]
	w.pendingBytes = 0
}

func (w *writer) closeChannel() {
	if w.ch == nil {
		return
	}
	if err := w.ch.Close(); err != nil {
		log.Warn("failed to close journal %s: %v", w.ch.Path(), err)
	}
	w.ch = nil
}
