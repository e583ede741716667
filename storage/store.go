package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/fundingarb/internal/metrics"
)

// Store wraps a gorm.DB with the write-behind queue described in spec
// section 6: writes enqueue onto a bounded channel and a single consumer
// goroutine drains it, coalescing same-key writes so a hot TradeRow update
// loop doesn't hammer the disk once per tick.
type Store struct {
	db *gorm.DB

	queue  chan writeOp
	done   chan struct{}
	closed chan struct{}
}

type writeOp struct {
	key  string // coalescing key; same key collapses to latest op
	run  func(*gorm.DB) error
}

const queueCapacity = 256

// Open connects to SQLite (bare path) or Postgres (postgres:// URL),
// mirroring the teacher's internal/database/database.go dispatch-by-prefix,
// auto-migrates AllModels, and starts the write-behind consumer.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("storage: connected (postgres)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("mkdir for sqlite: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("storage: connected (sqlite)")
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	s := &Store{
		db:     db,
		queue:  make(chan writeOp, queueCapacity),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// drain is the sole writer goroutine; coalescing by key means a burst of
// updates to the same trade collapses to its last value before it ever
// reaches gorm, adapted from the teacher's single-consumer stateApplyCh
// idiom in trader.go generalized from in-memory state mutation to
// persisted writes.
func (s *Store) drain() {
	defer close(s.closed)
	pending := make(map[string]writeOp)
	order := make([]string, 0, queueCapacity)

	flush := func() {
		for _, k := range order {
			op, ok := pending[k]
			if !ok {
				continue
			}
			if err := op.run(s.db); err != nil {
				log.Error().Err(err).Str("key", k).Msg("storage: write-behind flush failed")
			}
		}
		pending = make(map[string]writeOp)
		order = order[:0]
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case op := <-s.queue:
			if _, exists := pending[op.key]; !exists {
				order = append(order, op.key)
			}
			pending[op.key] = op
			metrics.StoreQueueDepth.Set(float64(len(s.queue)))
			if len(pending) >= 50 {
				flush()
			}
		case <-ticker.C:
			if len(pending) > 0 {
				flush()
			}
		case <-s.done:
			// Drain whatever is still in the channel synchronously before
			// flushing final state (spec section 6: Close MUST drain).
			for {
				select {
				case op := <-s.queue:
					if _, exists := pending[op.key]; !exists {
						order = append(order, op.key)
					}
					pending[op.key] = op
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Store) enqueue(key string, run func(*gorm.DB) error) {
	s.queue <- writeOp{key: key, run: run}
}

// Close signals the drain goroutine to flush synchronously and waits for it.
// A second Close after the first has completed is a no-op.
func (s *Store) Close(ctx context.Context) error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.done)
	select {
	case <-s.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying gorm handle for read paths and the reconciler's
// synchronous queries (reads never go through the write-behind queue).
func (s *Store) DB() *gorm.DB { return s.db }
