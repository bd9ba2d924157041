package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/ledgerd/bookie/utils/log"
)

// LastMarkFileName is the file the durable watermark is persisted to.
const LastMarkFileName = "lastMark"

const lastMarkSize = 16

// LogMark is a position in the journal: a journal file id and an offset in it.
type LogMark struct {
	LogFileID     int64
	LogFileOffset int64
}

// Compare orders marks by file id, then offset.
func (m LogMark) Compare(o LogMark) int {
	switch {
	case m.LogFileID < o.LogFileID:
		return -1
	case m.LogFileID > o.LogFileID:
		return 1
	case m.LogFileOffset < o.LogFileOffset:
		return -1
	case m.LogFileOffset > o.LogFileOffset:
		return 1
	default:
		return 0
	}
}

func (m LogMark) String() string {
	return fmt.Sprintf("LogMark(logFileId=%d, logFileOffset=%d)", m.LogFileID, m.LogFileOffset)
}

// LastLogMark tracks the position up to which the journal is durable. The
// current mark moves with every flush; the rolled mark is the last one
// persisted by a completed checkpoint.
type LastLogMark struct {
	mu     sync.RWMutex
	cur    LogMark
	rolled LogMark
	dirs   []string
}

// NewLastLogMark persists rolled marks into every directory in dirs.
func NewLastLogMark(dirs ...string) *LastLogMark {
	return &LastLogMark{dirs: dirs}
}

func (l *LastLogMark) SetCurLogMark(logID, pos int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = LogMark{LogFileID: logID, LogFileOffset: pos}
}

func (l *LastLogMark) CurMark() LogMark {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

func (l *LastLogMark) RolledMark() LogMark {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rolled
}

// MarkLog snapshots the current mark.
func (l *LastLogMark) MarkLog() LogMark {
	return l.CurMark()
}

// RollLog persists mark to every directory. The rolled mark only advances when
// all of them were written.
func (l *LastLogMark) RollLog(mark LogMark) error {
	var buf [lastMarkSize]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(mark.LogFileID))
	binary.BigEndian.PutUint64(buf[8:], uint64(mark.LogFileOffset))

	var errs []error
	for _, dir := range l.dirs {
		if err := writeLastMark(dir, buf[:]); err != nil {
			log.Error("problems writing the last mark to %s: %v", dir, err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if mark.Compare(l.rolled) > 0 {
		l.rolled = mark
	}
	return nil
}

// ReadLog loads the greatest persisted mark of all directories into both the
// current and the rolled mark. Missing files are fine: nothing was checkpointed yet.
func (l *LastLogMark) ReadLog() error {
	var greatest LogMark
	for _, dir := range l.dirs {
		data, err := os.ReadFile(filepath.Join(dir, LastMarkFileName))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "read last mark in %s", dir)
		}
		if len(data) < lastMarkSize {
			return fmt.Errorf("last mark in %s is %d bytes long, want %d", dir, len(data), lastMarkSize)
		}
		m := LogMark{
			LogFileID:     int64(binary.BigEndian.Uint64(data[:8])),
			LogFileOffset: int64(binary.BigEndian.Uint64(data[8:lastMarkSize])),
		}
		if m.Compare(greatest) > 0 {
			greatest = m
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = greatest
	l.rolled = greatest
	return nil
}

// ReadLastMark returns the mark persisted in dir, for offline tools.
func ReadLastMark(dir string) (LogMark, error) {
	l := NewLastLogMark(dir)
	if err := l.ReadLog(); err != nil {
		return LogMark{}, err
	}
	return l.CurMark(), nil
}

func writeLastMark(dir string, data []byte) error {
	tmp, err := os.CreateTemp(dir, LastMarkFileName+".*.tmp")
	if err != nil {
		return pkgerrors.Wrap(err, "create last mark temp file")
	}
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrap(err, "write last mark")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrap(err, "sync last mark")
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrap(err, "close last mark")
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, LastMarkFileName))
}
