package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const cacheKeyPrefix = "emb:"

// CacheStore is a badger database holding query vectors.
type CacheStore struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(msg string, items ...any)   { l.logger.Error(fmt.Sprintf(msg, items...)) }
func (l badgerLogger) Warningf(msg string, items ...any) { l.logger.Warn(fmt.Sprintf(msg, items...)) }
func (l badgerLogger) Infof(msg string, items ...any)    { l.logger.Debug(fmt.Sprintf(msg, items...)) }
func (l badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debug(fmt.Sprintf(msg, items...)) }

// OpenCacheStore opens the cache at path. An empty path keeps it in memory.
func OpenCacheStore(path string, logger *slog.Logger) (*CacheStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &CacheStore{db: db}, nil
}

func (s *CacheStore) Close() error {
	return s.db.Close()
}

func (s *CacheStore) get(key []byte) ([]float32, bool, error) {
	var vec []float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec, err = decodeVector(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *CacheStore) set(key []byte, vec []float32, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, encodeVector(vec))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// CachedEmbedder serves repeated query embeddings from a CacheStore.
// Cache failures are logged and never fail the embedding call.
type CachedEmbedder struct {
	next   ports.Embedder
	store  *CacheStore
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedEmbedder(next ports.Embedder, store *CacheStore, model string, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{next: next, store: store, model: model, ttl: ttl, logger: logger}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.model, text)
	vec, ok, err := c.store.get(key)
	if err != nil {
		c.logger.Warn("embedding_cache_read_failed", "error", err)
	}
	if ok {
		return vec, nil
	}

	vec, err = c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.set(key, vec, c.ttl); err != nil {
		c.logger.Warn("embedding_cache_write_failed", "error", err)
	}
	return vec, nil
}

func cacheKey(model, text string) []byte {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return append([]byte(cacheKeyPrefix), sum[:]...)
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
