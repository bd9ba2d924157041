package di

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/utils"
	"github.com/ledgerd/bookie/utils/log"
	"github.com/ledgerd/bookie/utils/pool"
)

type Container struct {
	bookieConfig   *utils.BookieConfig
	absJournalDirs []string
	fileProvider   journal.FileProvider
	journals       []*journal.Journal

	// journalDied is closed when any journal goroutine exits.
	journalDied     chan struct{}
	journalDiedOnce sync.Once
}

func NewContainer(cfg *utils.BookieConfig) *Container {
	return &Container{
		bookieConfig: cfg,
		journalDied:  make(chan struct{}),
	}
}

func (c *Container) GetConfig() *utils.BookieConfig {
	return c.bookieConfig
}

// GetAbsJournalDirs returns the configured journal directories as absolute paths.
func (c *Container) GetAbsJournalDirs() []string {
	if c.absJournalDirs != nil {
		return c.absJournalDirs
	}
	dirs := make([]string, 0, len(c.bookieConfig.JournalDirectories))
	for _, dir := range c.bookieConfig.JournalDirectories {
		abs, err := filepath.Abs(filepath.Clean(dir))
		if err != nil {
			log.Error("Cannot take absolute path of journal directory %s: %v", dir, err)
			abs = dir
		}
		dirs = append(dirs, abs)
	}
	c.absJournalDirs = dirs
	return c.absJournalDirs
}

func (c *Container) GetFileProvider() journal.FileProvider {
	if c.fileProvider != nil {
		return c.fileProvider
	}
	p, err := journal.NewFileProvider(c.bookieConfig.FileProvider)
	if err != nil {
		log.Error("Unable to create journal file provider. err=" + err.Error())
		panic(fmt.Sprintf("unable to create journal file provider: %v", err))
	}
	c.fileProvider = p
	return c.fileProvider
}

// GetJournals opens one Journal per configured journal directory. The journals
// are not started.
func (c *Container) GetJournals() []*journal.Journal {
	if c.journals != nil {
		return c.journals
	}

	dirs := c.GetAbsJournalDirs()
	journals := make([]*journal.Journal, 0, len(dirs))
	for i, dir := range dirs {
		cfg := c.bookieConfig.JournalConfig(i, c.GetFileProvider())
		cfg.Dir = dir
		j, err := journal.New(cfg, c.journalExited(dir))
		if err != nil {
			log.Error("Unable to create journal in %s. err=%v", dir, err)
			panic(fmt.Sprintf("unable to create journal in %s: %v", dir, err))
		}
		journals = append(journals, j)
	}
	c.journals = journals
	return c.journals
}

func (c *Container) journalExited(dir string) func() {
	return func() {
		log.Warn("journal %s exited", dir)
		c.journalDiedOnce.Do(func() { close(c.journalDied) })
	}
}

// JournalDied is closed as soon as one journal goroutine exits, whether it was
// shut down or failed.
func (c *Container) JournalDied() <-chan struct{} {
	return c.journalDied
}

// GetRecoveryPool returns a pool that replays every journal it is fed with,
// RecoveryParallelism journals at a time.
func (c *Container) GetRecoveryPool() *pool.Pool {
	return pool.NewPool(c.bookieConfig.RecoveryParallelism, func(input interface{}) error {
		j, ok := input.(*journal.Journal)
		if !ok {
			return fmt.Errorf("cannot replay %T", input)
		}
		return ReplayJournal(j)
	})
}

// Shutdown stops every journal and closes the file provider.
func (c *Container) Shutdown() {
	for _, j := range c.journals {
		j.Shutdown()
	}
	if c.fileProvider != nil {
		if err := c.fileProvider.Close(); err != nil {
			log.Warn("failed to close journal file provider: %v", err)
		}
	}
}
