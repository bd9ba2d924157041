package journal

import (
	"fmt"
	"time"

	"github.com/ledgerd/bookie/journal/wal"
)

const (
	DefaultMaxJournalSize           = 2048 * MB
	DefaultMaxBackupJournals        = 5
	DefaultBufferedWritesThreshold  = 512 * KB
	DefaultMaxGroupWait             = 2 * time.Millisecond
	DefaultQueueSize                = 10000
	DefaultShutdownTimeout          = 10 * time.Second
	DefaultBufferedEntriesThreshold = 0
)

// Config holds the settings of one Journal.
type Config struct {
	// Dir is the journal directory. It is created when missing.
	Dir string
	// LastMarkDirs are where the durable watermark is persisted. Defaults to Dir.
	LastMarkDirs []string

	MaxJournalSize       int64
	PreAllocSize         int64
	WriteBufferSize      int
	Alignment            int64
	FormatVersion        int
	RemovePagesFromCache bool
	SyncData             bool

	// ReuseFiles recycles retired journal files on rotation when the provider supports it.
	ReuseFiles        bool
	MaxBackupJournals int

	// Group commit. A zero threshold is disabled.
	BufferedEntriesThreshold int
	BufferedWritesThreshold  int64
	MaxGroupWait             time.Duration
	FlushWhenQueueEmpty      bool

	// SkipInvalidRecord makes Replay stop at a corrupt record instead of failing.
	SkipInvalidRecord bool

	QueueSize       int
	ShutdownTimeout time.Duration

	Provider FileProvider
}

// DefaultConfig returns the defaults for a journal in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                      dir,
		MaxJournalSize:           DefaultMaxJournalSize,
		PreAllocSize:             DefaultPreAllocSize,
		WriteBufferSize:          DefaultWriteBufferSize,
		Alignment:                DefaultAlignment,
		FormatVersion:            wal.CurrentVersion,
		RemovePagesFromCache:     true,
		SyncData:                 true,
		MaxBackupJournals:        DefaultMaxBackupJournals,
		BufferedEntriesThreshold: DefaultBufferedEntriesThreshold,
		BufferedWritesThreshold:  DefaultBufferedWritesThreshold,
		MaxGroupWait:             DefaultMaxGroupWait,
		QueueSize:                DefaultQueueSize,
		ShutdownTimeout:          DefaultShutdownTimeout,
		Provider:                 NewOSFileProvider(false),
	}
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("journal directory is not set: %w", ErrInvalidArgument)
	}
	if c.MaxJournalSize <= 0 {
		return fmt.Errorf("max journal size %d: %w", c.MaxJournalSize, ErrInvalidArgument)
	}
	if c.MaxBackupJournals < 0 {
		return fmt.Errorf("max backup journals %d: %w", c.MaxBackupJournals, ErrInvalidArgument)
	}
	if c.BufferedEntriesThreshold < 0 || c.BufferedWritesThreshold < 0 || c.MaxGroupWait < 0 {
		return fmt.Errorf("negative group commit threshold: %w", ErrInvalidArgument)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("journal queue size %d: %w", c.QueueSize, ErrInvalidArgument)
	}
	if err := wal.CheckWriteVersion(c.FormatVersion); err != nil {
		return err
	}
	opts := c.channelOptions(nil)
	return opts.validate()
}

func (c *Config) channelOptions(replace *int64) ChannelOptions {
	return ChannelOptions{
		PreAllocSize:        c.PreAllocSize,
		WriteBufferSize:     c.WriteBufferSize,
		Alignment:           c.Alignment,
		RemoveFromPageCache: c.RemovePagesFromCache,
		SyncData:            c.SyncData,
		FormatVersion:       c.FormatVersion,
		ReplaceID:           replace,
		Provider:            c.Provider,
	}
}
