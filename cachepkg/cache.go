// Package cachepkg is a build-artifact cache backing the build package's
// sample Build runner: it stores task outputs keyed by a cache key supplied
// by the caller and evicts by recency and size once over capacity.
package cachepkg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a Cache's storage and capacity.
type Config struct {
	StorageDir      string
	MaxCacheSize    int64
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Entry is one cached artifact.
type Entry struct {
	Key       string            `json:"key"`
	Data      []byte            `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
	TTL       time.Duration     `json:"ttl"`
	Metadata  map[string]string `json:"metadata"`
}

// Storage is the persistence backend for cache entries.
type Storage interface {
	Get(key string) (*Entry, error)
	Put(key string, entry *Entry) error
	Delete(key string) error
	List() ([]string, error)
	Size() (int64, error)
}

// Metrics summarizes cache activity since startup.
type Metrics struct {
	Hits      int64
	Misses    int64
	Size      int64
	Entries   int
	Evictions int64
}

// Cache is a size-bounded artifact cache with recency-weighted eviction.
type Cache struct {
	config  Config
	storage Storage
	logger  *slog.Logger

	mu      sync.Mutex
	metrics Metrics

	hitsCounter   prometheus.Counter
	missesCounter prometheus.Counter
	sizeGauge     prometheus.Gauge
	entriesGauge  prometheus.Gauge
	evictCounter  prometheus.Counter
}

// NewCache builds a Cache backed by filesystem storage at cfg.StorageDir. A
// nil registerer skips Prometheus registration.
func NewCache(cfg Config, reg prometheus.Registerer, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		config:  cfg,
		storage: NewFileSystemStorage(cfg.StorageDir, cfg.TTL),
		logger:  logger,

		hitsCounter:   prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_artifact_cache_hits_total", Help: "Artifact cache hits."}),
		missesCounter: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_artifact_cache_misses_total", Help: "Artifact cache misses."}),
		sizeGauge:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatcher_artifact_cache_size_bytes", Help: "Artifact cache size in bytes."}),
		entriesGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatcher_artifact_cache_entries", Help: "Artifact cache entry count."}),
		evictCounter:  prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_artifact_cache_evictions_total", Help: "Artifact cache evictions."}),
	}
	if reg != nil {
		reg.MustRegister(c.hitsCounter, c.missesCounter, c.sizeGauge, c.entriesGauge, c.evictCounter)
	}
	return c
}

// Get retrieves a cached artifact, reporting a hit/miss to the metrics.
func (c *Cache) Get(key string) (*Entry, error) {
	entry, err := c.storage.Get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.metrics.Misses++
		c.missesCounter.Inc()
		return nil, err
	}
	c.metrics.Hits++
	c.hitsCounter.Inc()
	return entry, nil
}

// Put stores an artifact under key and triggers eviction if the cache is
// over its configured capacity.
func (c *Cache) Put(key string, data []byte, metadata map[string]string) error {
	entry := &Entry{
		Key:       key,
		Data:      data,
		Timestamp: time.Now(),
		TTL:       c.config.TTL,
		Metadata:  metadata,
	}
	if err := c.storage.Put(key, entry); err != nil {
		return err
	}
	c.refreshMetrics()
	if c.config.MaxCacheSize > 0 {
		if err := c.evictIfNeeded(); err != nil {
			c.logger.Warn("artifact cache eviction failed", "error", err)
		}
	}
	return nil
}

// Delete removes a cached artifact.
func (c *Cache) Delete(key string) error {
	if err := c.storage.Delete(key); err != nil {
		return err
	}
	c.refreshMetrics()
	return nil
}

// Snapshot returns a copy of the current metrics.
func (c *Cache) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Cache) refreshMetrics() {
	size, _ := c.storage.Size()
	keys, _ := c.storage.List()

	c.mu.Lock()
	c.metrics.Size = size
	c.metrics.Entries = len(keys)
	c.mu.Unlock()

	c.sizeGauge.Set(float64(size))
	c.entriesGauge.Set(float64(len(keys)))
}

// evictIfNeeded does nothing below 80% of the configured capacity; at or
// above it, it removes the least-recently-written, largest entries until
// the cache is back under 70%.
func (c *Cache) evictIfNeeded() error {
	size, err := c.storage.Size()
	if err != nil {
		return err
	}
	threshold := int64(float64(c.config.MaxCacheSize) * 0.8)
	if size < threshold {
		return nil
	}

	keys, err := c.storage.List()
	if err != nil {
		return err
	}

	type scored struct {
		key   string
		score float64
		bytes int
	}
	var candidates []scored
	for _, key := range keys {
		entry, err := c.storage.Get(key)
		if err != nil {
			continue
		}
		recency := 1.0 / (1.0 + time.Since(entry.Timestamp).Hours())
		sizeScore := 1.0 / float64(len(entry.Data)+1)
		candidates = append(candidates, scored{key: key, score: recency*0.7 + sizeScore*0.3, bytes: len(entry.Data)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	target := int64(float64(c.config.MaxCacheSize) * 0.7)
	for _, cand := range candidates {
		if size <= target {
			break
		}
		if err := c.storage.Delete(cand.key); err != nil {
			continue
		}
		size -= int64(cand.bytes)
		c.mu.Lock()
		c.metrics.Evictions++
		c.mu.Unlock()
		c.evictCounter.Inc()
	}
	c.refreshMetrics()
	return nil
}

// FileSystemStorage is a Storage backend keyed by a JSON file per entry.
type FileSystemStorage struct {
	BaseDir string
	TTL     time.Duration
}

// NewFileSystemStorage builds a FileSystemStorage rooted at baseDir.
func NewFileSystemStorage(baseDir string, ttl time.Duration) *FileSystemStorage {
	return &FileSystemStorage{BaseDir: baseDir, TTL: ttl}
}

func (fs *FileSystemStorage) path(key string) string {
	return filepath.Join(fs.BaseDir, key+".cache")
}

// Get reads and decodes key's entry, deleting and reporting a miss if its
// TTL has elapsed.
func (fs *FileSystemStorage) Get(key string) (*Entry, error) {
	file, err := os.Open(fs.path(key))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entry Entry
	if err := json.NewDecoder(file).Decode(&entry); err != nil {
		return nil, err
	}
	if entry.TTL > 0 && time.Since(entry.Timestamp) > entry.TTL {
		os.Remove(fs.path(key))
		return nil, fmt.Errorf("cache entry expired: %s", key)
	}
	return &entry, nil
}

// Put writes entry to disk, creating BaseDir if necessary.
func (fs *FileSystemStorage) Put(key string, entry *Entry) error {
	if err := os.MkdirAll(fs.BaseDir, 0o755); err != nil {
		return err
	}
	file, err := os.Create(fs.path(key))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(entry)
}

// Delete removes key's file.
func (fs *FileSystemStorage) Delete(key string) error {
	return os.Remove(fs.path(key))
}

// List returns every cached key under BaseDir.
func (fs *FileSystemStorage) List() ([]string, error) {
	var keys []string
	err := filepath.Walk(fs.BaseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".cache" {
			base := filepath.Base(path)
			keys = append(keys, base[:len(base)-len(".cache")])
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

// Size returns the total on-disk size of all cached entries.
func (fs *FileSystemStorage) Size() (int64, error) {
	var total int64
	err := filepath.Walk(fs.BaseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".cache" {
			total += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}
