// Package gormstore is the cross-process SecretStore backend: a single
// `secret_entries` table shared by every OS process that
// points at the same database file or DSN, polled on a short interval so
// that a settings window and the main window converge on one logical
// state, the same way a gorm-backed table polls for session
// and voucher persistence via gorm.io/gorm with the sqlite/postgres
// drivers switched on a DatabaseConfig.Type string.
package gormstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

// SecretEntry is the one-table schema: a key/value row plus the timestamp
// gorm maintains automatically, which doubles as the cross-process change
// marker the poll loop watches.
type SecretEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

// PollInterval is how often Store checks for rows changed by another
// process. Shorter intervals converge faster at the cost of more queries;
// this mirrors a "best effort" cross-window refresh, not a guarantee.
const PollInterval = 2 * time.Second

// Store is a gorm-backed SecretStore. Construct with Open.
type Store struct {
	db *gorm.DB

	mu          sync.Mutex
	subscribers map[int]func(ports.ChangeEvent)
	nextSub     int
	seen        map[string]time.Time // last UpdatedAt this process observed per key

	stopPoll chan struct{}
	pollDone chan struct{}
}

// Open connects to a sqlite or postgres database identified by dbType/dsn
// and migrates the secret_entries table. dbType must be "sqlite" or
// "postgres".
func Open(dbType, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(dbType) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported database type %q (must be sqlite or postgres)", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.StorageUnavailable, "opening secret store database", err)
	}
	if err := db.AutoMigrate(&SecretEntry{}); err != nil {
		return nil, vaulterr.Wrap(vaulterr.StorageUnavailable, "migrating secret store schema", err)
	}

	s := &Store{
		db:          db,
		subscribers: make(map[int]func(ports.ChangeEvent)),
		seen:        make(map[string]time.Time),
		stopPoll:    make(chan struct{}),
		pollDone:    make(chan struct{}),
	}
	go s.pollLoop()
	return s, nil
}

// Close stops the background poll loop and releases the database handle.
func (s *Store) Close() error {
	close(s.stopPoll)
	<-s.pollDone
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry SecretEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, vaulterr.Wrap(vaulterr.StorageUnavailable, "reading secret entry", err)
	}
	return entry.Value, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	entry := SecretEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return vaulterr.Wrap(vaulterr.StorageUnavailable, "writing secret entry", err)
	}

	s.mu.Lock()
	s.seen[key] = entry.UpdatedAt
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()
	notify(subs, ports.ChangeEvent{Key: key})
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&SecretEntry{}).Error; err != nil {
		return vaulterr.Wrap(vaulterr.StorageUnavailable, "deleting secret entry", err)
	}

	s.mu.Lock()
	delete(s.seen, key)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()
	notify(subs, ports.ChangeEvent{Key: key})
	return nil
}

func (s *Store) Subscribe(fn func(ports.ChangeEvent)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotSubscribersLocked() []func(ports.ChangeEvent) {
	subs := make([]func(ports.ChangeEvent), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(ports.ChangeEvent), ev ports.ChangeEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}

// pollLoop is the best-effort cross-process change detector: every
// PollInterval it reloads all rows and compares UpdatedAt against what this
// process last saw, emitting a ChangeEvent for anything another process
// wrote. Writes made by this process are already reflected in s.seen by
// Put/Delete, so they are not re-announced here.
func (s *Store) pollLoop() {
	defer close(s.pollDone)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Store) pollOnce() {
	var entries []SecretEntry
	if err := s.db.Select("key", "updated_at").Find(&entries).Error; err != nil {
		return
	}

	s.mu.Lock()
	var changed []string
	current := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		current[e.Key] = e.UpdatedAt
		if last, ok := s.seen[e.Key]; !ok || !last.Equal(e.UpdatedAt) {
			changed = append(changed, e.Key)
		}
	}
	for key := range s.seen {
		if _, stillExists := current[key]; !stillExists {
			changed = append(changed, key)
		}
	}
	s.seen = current
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	for _, key := range changed {
		notify(subs, ports.ChangeEvent{Key: key})
	}
}

var _ ports.SecretStore = (*Store)(nil)
