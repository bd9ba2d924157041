// Package journal implements the write-ahead journal of a bookie. Every entry is
// appended to a journal file and acknowledged once a group commit made it
// durable. Journal files can be scanned to recover after a crash and are
// trimmed once a checkpoint covers them.
package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ledgerd/bookie/metrics"
	"github.com/ledgerd/bookie/utils/log"
)

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateShuttingDown
	stateStopped
)

// Journal is the single writer of the journal files in one directory. Producers
// enqueue entries from any goroutine; one background goroutine writes them,
// group-commits and runs the callbacks in enqueue order.
type Journal struct {
	cfg Config
	dir string

	queue       chan *QueueEntry
	lastLogMark *LastLogMark
	callbacks   *callbackDispatcher

	mu    sync.RWMutex
	state state
	// stopping is closed once no more entries are accepted.
	stopping     chan struct{}
	stoppingOnce sync.Once
	// exited is closed after the journal goroutine returned and the alive listener ran.
	exited chan struct{}

	aliveListener func()
}

// New creates the journal directory if needed and loads the persisted last mark.
// aliveListener, when set, is called once when the journal goroutine exits.
func New(cfg Config, aliveListener func()) (*Journal, error) {
	if cfg.Provider == nil {
		cfg.Provider = NewOSFileProvider(false)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	const journalDirPerm = 0o755
	if err := os.MkdirAll(cfg.Dir, journalDirPerm); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", cfg.Dir, err)
	}
	if len(cfg.LastMarkDirs) == 0 {
		cfg.LastMarkDirs = []string{cfg.Dir}
	}
	for _, dir := range cfg.LastMarkDirs {
		if err := os.MkdirAll(dir, journalDirPerm); err != nil {
			return nil, fmt.Errorf("create last mark directory %s: %w", dir, err)
		}
	}

	lastLogMark := NewLastLogMark(cfg.LastMarkDirs...)
	if err := lastLogMark.ReadLog(); err != nil {
		return nil, fmt.Errorf("load last log mark of %s: %w", cfg.Dir, err)
	}
	log.Info("journal %s last log mark: %v", cfg.Dir, lastLogMark.CurMark())

	return &Journal{
		cfg:           cfg,
		dir:           cfg.Dir,
		queue:         make(chan *QueueEntry, cfg.QueueSize),
		lastLogMark:   lastLogMark,
		callbacks:     newCallbackDispatcher(),
		stopping:      make(chan struct{}),
		exited:        make(chan struct{}),
		aliveListener: aliveListener,
	}, nil
}

// Dir is the journal directory.
func (j *Journal) Dir() string { return j.dir }

// Provider is the file provider journal files are opened with.
func (j *Journal) Provider() FileProvider { return j.cfg.Provider }

// LastLogMark is the durable watermark of this journal.
func (j *Journal) LastLogMark() *LastLogMark { return j.lastLogMark }

// SetLastLogMark overrides the current mark.
func (j *Journal) SetLastLogMark(logID, pos int64) {
	j.lastLogMark.SetCurLogMark(logID, pos)
}

// QueueLength is the number of entries waiting for the journal goroutine.
func (j *Journal) QueueLength() int { return len(j.queue) }

// Done is closed once the journal goroutine exited.
func (j *Journal) Done() <-chan struct{} { return j.exited }

// Start spawns the journal goroutine.
func (j *Journal) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != stateCreated {
		return fmt.Errorf("journal %s already started", j.dir)
	}
	j.state = stateRunning

	w := &writer{j: j, logID: j.initialLogID()}
	go w.run()
	log.Info("journal %s started", j.dir)
	return nil
}

// Shutdown lets the journal goroutine flush what was enqueued before and waits
// up to the configured timeout for it to exit. Shutting down a journal that is
// already stopping is a no-op.
func (j *Journal) Shutdown() {
	j.closeStopping()

	j.mu.Lock()
	switch j.state {
	case stateCreated:
		j.state = stateStopped
		j.mu.Unlock()
		j.failQueued()
		j.callbacks.close()
		close(j.exited)
		return
	case stateRunning:
		j.state = stateShuttingDown
		j.mu.Unlock()
	default:
		j.mu.Unlock()
		return
	}

	log.Info("shutting down journal %s", j.dir)
	select {
	case j.queue <- shutdownMarker:
	case <-j.exited:
	}
	select {
	case <-j.exited:
		log.Info("journal %s stopped", j.dir)
	case <-time.After(j.cfg.ShutdownTimeout):
		log.Warn("journal %s did not stop within %v", j.dir, j.cfg.ShutdownTimeout)
	}
}

func (j *Journal) closeStopping() {
	j.stoppingOnce.Do(func() { close(j.stopping) })
}

// LogAddEntry enqueues payload as the journal record of ledgerID/entryID. cb
// runs once the record is durable, or right after it reached the OS when
// every entry of its group commit was enqueued with ackBeforeSync.
func (j *Journal) LogAddEntry(ledgerID, entryID int64, payload []byte, ackBeforeSync bool,
	cb WriteCallback, ctx interface{},
) error {
	// a zero length terminates a journal file
	if len(payload) == 0 {
		return fmt.Errorf("empty payload for ledger %d entry %d: %w", ledgerID, entryID, ErrInvalidArgument)
	}
	err := j.enqueue(&QueueEntry{
		kind:          addEntry,
		ledgerID:      ledgerID,
		entryID:       entryID,
		payload:       payload,
		ackBeforeSync: ackBeforeSync,
		cb:            cb,
		ctx:           ctx,
	})
	if err == nil {
		metrics.JournalAddEntriesTotal.WithLabelValues(j.dir).Inc()
	}
	return err
}

// entryIDsSize is the ledger id and entry id every entry payload starts with.
const entryIDsSize = 16

// LogAddEntryFromBuffer is LogAddEntry for an entry whose payload starts with
// its big-endian ledger id and entry id.
func (j *Journal) LogAddEntryFromBuffer(entry []byte, ackBeforeSync bool, cb WriteCallback, ctx interface{}) error {
	if len(entry) < entryIDsSize {
		return fmt.Errorf("entry of %d bytes has no ledger and entry id: %w", len(entry), ErrInvalidArgument)
	}
	ledgerID := int64(binary.BigEndian.Uint64(entry[:8]))
	entryID := int64(binary.BigEndian.Uint64(entry[8:entryIDsSize]))
	return j.LogAddEntry(ledgerID, entryID, entry, ackBeforeSync, cb, ctx)
}

// ForceLedger enqueues a flush request. cb runs after everything enqueued
// before it is durable.
func (j *Journal) ForceLedger(ledgerID int64, cb WriteCallback, ctx interface{}) error {
	err := j.enqueue(&QueueEntry{
		kind:     forceEntry,
		ledgerID: ledgerID,
		entryID:  MetaEntryIDForceLedger,
		cb:       cb,
		ctx:      ctx,
	})
	if err == nil {
		metrics.JournalForceLedgerTotal.WithLabelValues(j.dir).Inc()
	}
	return err
}

func (j *Journal) enqueue(qe *QueueEntry) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.state != stateCreated && j.state != stateRunning {
		return ErrJournalStopped
	}

	qe.enqueueTime = time.Now()
	select {
	case j.queue <- qe:
		metrics.JournalQueueLength.WithLabelValues(j.dir).Set(float64(len(j.queue)))
		return nil
	case <-j.stopping:
		return ErrJournalStopped
	}
}

// initialLogID is the id the next journal file is numbered after.
func (j *Journal) initialLogID() int64 {
	ids := ListJournalIDs(j.dir, nil)
	if len(ids) == 0 {
		return time.Now().UnixMilli()
	}
	return ids[len(ids)-1]
}

// exit runs on the journal goroutine once it stops writing.
func (j *Journal) exit() {
	j.closeStopping()
	j.mu.Lock()
	j.state = stateStopped
	j.mu.Unlock()

	j.failQueued()
	j.callbacks.close()
	if j.aliveListener != nil {
		j.aliveListener()
	}
	close(j.exited)
}

// failQueued fails everything left in the queue. Nothing can be enqueued anymore.
func (j *Journal) failQueued() {
	for {
		select {
		case qe := <-j.queue:
			if qe.kind != shutdownEntry {
				j.callbacks.dispatch(qe.completion(EIO))
				metrics.JournalCallbackFailuresTotal.WithLabelValues(j.dir).Inc()
			}
		default:
			metrics.JournalQueueLength.WithLabelValues(j.dir).Set(0)
			return
		}
	}
}

// Replay scans every journal file from the persisted last mark on and hands the
// records to scanner. It must run before Start.
func (j *Journal) Replay(scanner Scanner) error {
	mark := j.lastLogMark.CurMark()
	ids := ListJournalIDs(j.dir, func(id int64) bool { return id >= mark.LogFileID })

	counted := ScannerFunc(func(version int, offset int64, entry []byte) error {
		metrics.JournalReplayedRecordsTotal.WithLabelValues(j.dir).Inc()
		return scanner.Process(version, offset, entry)
	})
	for _, id := range ids {
		var pos int64
		if id == mark.LogFileID {
			pos = mark.LogFileOffset
		}
		log.Info("replaying journal %x of %s from position %d", id, j.dir, pos)
		end, err := ScanJournal(j.dir, id, pos, counted, j.cfg.SkipInvalidRecord, j.cfg.Provider)
		if err != nil {
			return fmt.Errorf("replay journal %x of %s: %w", id, j.dir, err)
		}
		log.Info("replayed journal %x of %s up to position %d", id, j.dir, end)
	}
	return nil
}
