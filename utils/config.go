package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/utils/log"
)

var InstanceConfig BookieConfig

const (
	defaultListenURL           = ":8000"
	defaultDiskUsageInterval   = 10 * time.Minute
	defaultRecoveryParallelism = 1
)

// BookieConfig is the parsed bookie.yml.
type BookieConfig struct {
	// JournalDirectories get one Journal each.
	JournalDirectories []string
	// LedgerDirectories hold the persisted last log mark. Journal directories are used when empty.
	LedgerDirectories []string
	ListenURL         string
	LogLevel          log.Level
	StopGracePeriod   time.Duration
	// DiskUsageInterval is how often journal disk usage is measured. Zero disables it.
	DiskUsageInterval   time.Duration
	RecoveryParallelism int
	// FileProvider names the journal.FileProvider, see journal.NewFileProvider.
	FileProvider string
	// Journal is the template every journal directory is configured from. Its Dir is empty.
	Journal   journal.Config
	StartTime time.Time
}

// ParseConfig parses bookie.yml. Missing settings take their defaults.
func ParseConfig(data []byte) (*BookieConfig, error) {
	var (
		err error
		aux struct {
			JournalDirectories  []string `yaml:"journal_directories"`
			LedgerDirectories   []string `yaml:"ledger_directories"`
			ListenURL           string   `yaml:"listen_url"`
			LogLevel            string   `yaml:"log_level"`
			StopGracePeriod     string   `yaml:"stop_grace_period"`
			DiskUsageInterval   string   `yaml:"disk_usage_interval"`
			RecoveryParallelism int      `yaml:"recovery_parallelism"`
			Journal             struct {
				MaxSize                  string `yaml:"max_size"`
				PreAllocSize             string `yaml:"preallocation_size"`
				WriteBufferSize          string `yaml:"write_buffer_size"`
				Alignment                int64  `yaml:"alignment_size"`
				FormatVersion            int    `yaml:"format_version"`
				RemovePagesFromCache     string `yaml:"remove_pages_from_cache"`
				SyncData                 string `yaml:"sync_data"`
				ReuseFiles               string `yaml:"reuse_files"`
				MaxBackups               *int   `yaml:"max_backups"`
				BufferedEntriesThreshold int    `yaml:"buffered_entries_threshold"`
				BufferedWritesThreshold  string `yaml:"buffered_writes_threshold"`
				MaxGroupWait             string `yaml:"max_group_wait"`
				FlushWhenQueueEmpty      string `yaml:"flush_when_queue_empty"`
				SkipInvalidRecord        string `yaml:"skip_invalid_record"`
				QueueSize                int    `yaml:"queue_size"`
				ShutdownTimeout          string `yaml:"shutdown_timeout"`
				FileProvider             string `yaml:"file_provider"`
			} `yaml:"journal"`
		}
	)

	if err = yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	if len(aux.JournalDirectories) == 0 {
		return nil, errors.New("no journal_directories configured")
	}
	seen := map[string]bool{}
	for _, dir := range aux.JournalDirectories {
		if dir == "" {
			return nil, errors.New("empty journal directory")
		}
		if seen[dir] {
			return nil, fmt.Errorf("journal directory %s is listed twice", dir)
		}
		seen[dir] = true
	}

	config := &BookieConfig{
		JournalDirectories:  aux.JournalDirectories,
		LedgerDirectories:   aux.LedgerDirectories,
		ListenURL:           defaultListenURL,
		LogLevel:            log.INFO,
		DiskUsageInterval:   defaultDiskUsageInterval,
		RecoveryParallelism: defaultRecoveryParallelism,
		FileProvider:        journal.DefaultProvider,
		Journal:             journal.DefaultConfig(""),
	}
	if aux.ListenURL != "" {
		config.ListenURL = aux.ListenURL
	}
	if aux.LogLevel != "" {
		config.LogLevel = log.ParseLevel(aux.LogLevel)
	}
	if config.StopGracePeriod, err = parseDuration("stop_grace_period", aux.StopGracePeriod, 0); err != nil {
		return nil, err
	}
	if config.DiskUsageInterval, err = parseDuration("disk_usage_interval", aux.DiskUsageInterval,
		defaultDiskUsageInterval); err != nil {
		return nil, err
	}
	if aux.RecoveryParallelism < 0 {
		return nil, fmt.Errorf("invalid recovery_parallelism: %d", aux.RecoveryParallelism)
	}
	if aux.RecoveryParallelism > 0 {
		config.RecoveryParallelism = aux.RecoveryParallelism
	}

	j := &config.Journal
	aj := aux.Journal
	if j.MaxJournalSize, err = parseSize("journal.max_size", aj.MaxSize, j.MaxJournalSize); err != nil {
		return nil, err
	}
	if j.PreAllocSize, err = parseSize("journal.preallocation_size", aj.PreAllocSize, j.PreAllocSize); err != nil {
		return nil, err
	}
	writeBuffer, err := parseSize("journal.write_buffer_size", aj.WriteBufferSize, int64(j.WriteBufferSize))
	if err != nil {
		return nil, err
	}
	j.WriteBufferSize = int(writeBuffer)
	if j.BufferedWritesThreshold, err = parseSize("journal.buffered_writes_threshold",
		aj.BufferedWritesThreshold, j.BufferedWritesThreshold); err != nil {
		return nil, err
	}
	if j.MaxGroupWait, err = parseDuration("journal.max_group_wait", aj.MaxGroupWait, j.MaxGroupWait); err != nil {
		return nil, err
	}
	if j.ShutdownTimeout, err = parseDuration("journal.shutdown_timeout", aj.ShutdownTimeout,
		j.ShutdownTimeout); err != nil {
		return nil, err
	}

	bools := []struct {
		key   string
		value string
		dst   *bool
	}{
		{"journal.remove_pages_from_cache", aj.RemovePagesFromCache, &j.RemovePagesFromCache},
		{"journal.sync_data", aj.SyncData, &j.SyncData},
		{"journal.reuse_files", aj.ReuseFiles, &j.ReuseFiles},
		{"journal.flush_when_queue_empty", aj.FlushWhenQueueEmpty, &j.FlushWhenQueueEmpty},
		{"journal.skip_invalid_record", aj.SkipInvalidRecord, &j.SkipInvalidRecord},
	}
	for _, b := range bools {
		if b.value == "" {
			continue
		}
		v, err := strconv.ParseBool(b.value)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q for %s: %w", b.value, b.key, err)
		}
		*b.dst = v
	}

	if aj.Alignment != 0 {
		j.Alignment = aj.Alignment
	}
	if aj.FormatVersion != 0 {
		j.FormatVersion = aj.FormatVersion
	}
	if aj.MaxBackups != nil {
		j.MaxBackupJournals = *aj.MaxBackups
	}
	if aj.BufferedEntriesThreshold != 0 {
		j.BufferedEntriesThreshold = aj.BufferedEntriesThreshold
	}
	if aj.QueueSize != 0 {
		j.QueueSize = aj.QueueSize
	}
	if aj.FileProvider != "" {
		config.FileProvider = aj.FileProvider
	}
	if j.ReuseFiles && config.FileProvider == journal.DefaultProvider {
		log.Warn("journal.reuse_files is set but the %q file provider does not recycle files", config.FileProvider)
	}

	// catch bad sizes and versions here rather than when the first journal opens
	validate := *j
	validate.Dir = config.JournalDirectories[0]
	if err := validate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journal settings: %w", err)
	}
	return config, nil
}

// JournalConfig returns the settings of the idx-th journal directory. With
// several journals sharing the ledger directories, each keeps its last mark in
// its own journal-<idx> subdirectory.
func (c *BookieConfig) JournalConfig(idx int, provider journal.FileProvider) journal.Config {
	cfg := c.Journal
	cfg.Dir = c.JournalDirectories[idx]
	cfg.Provider = provider
	for _, dir := range c.LedgerDirectories {
		if len(c.JournalDirectories) > 1 {
			dir = filepath.Join(dir, fmt.Sprintf("journal-%d", idx))
		}
		cfg.LastMarkDirs = append(cfg.LastMarkDirs, dir)
	}
	return cfg
}

// parseSize accepts a plain byte count or a human readable size such as 16MB.
func parseSize(key, value string, def int64) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}
	n, err := bytefmt.ToBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q for %s: %w", value, key, err)
	}
	return int64(n), nil
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q for %s: %w", value, key, err)
	}
	return d, nil
}
