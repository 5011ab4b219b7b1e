// Package cache keeps session data that must survive a restart of the
// coordinator: the proxy user context and the quorum attendance list.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"asamblea/internal/domain"
)

const (
	keyUserContext        = "user_context"
	keyParticipantsPrefix = "quorum_participantes_"
)

// Config holds cache storage options
type Config struct {
	Path       string // Directory for the database files, ignored in memory
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// InMemoryConfig returns a config for a non-persistent cache
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is a badger-backed key value cache
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// ParticipantCache is the stored quorum attendance list of an assembly
type ParticipantCache struct {
	Participants map[string]domain.Participant `json:"participantes"`
	LastSync     time.Time                     `json:"ultima_sync"`
	Total        int                           `json:"total_participantes"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the cache
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens a cache that lives only as long as the process
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveIdentity stores the user context used for later calls
func (s *Store) SaveIdentity(id domain.Identity) error {
	return s.put(keyUserContext, id)
}

// Identity returns the stored user context
func (s *Store) Identity() (domain.Identity, bool, error) {
	var id domain.Identity
	found, err := s.get(keyUserContext, &id)
	return id, found, err
}

// ClearIdentity removes the stored user context
func (s *Store) ClearIdentity() error {
	return s.delete(keyUserContext)
}

// SaveParticipants replaces the attendance list of an assembly
func (s *Store) SaveParticipants(assemblyID int64, participants []domain.Participant, syncedAt time.Time) error {
	pc := ParticipantCache{
		Participants: make(map[string]domain.Participant, len(participants)),
		LastSync:     syncedAt,
	}
	for _, p := range participants {
		pc.Participants[strconv.FormatInt(p.ID, 10)] = p
	}
	pc.Total = len(pc.Participants)
	return s.put(participantsKey(assemblyID), pc)
}

// ApplyParticipantChanges merges changed participants into the stored list.
// With nothing stored yet the changes become the full list.
func (s *Store) ApplyParticipantChanges(assemblyID int64, changes []domain.Participant, syncedAt time.Time) error {
	key := participantsKey(assemblyID)
	return s.db.Update(func(txn *badger.Txn) error {
		pc := ParticipantCache{Participants: make(map[string]domain.Participant)}
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &pc)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if pc.Participants == nil {
				pc.Participants = make(map[string]domain.Participant)
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		for _, p := range changes {
			pc.Participants[strconv.FormatInt(p.ID, 10)] = p
		}
		pc.LastSync = syncedAt
		pc.Total = len(pc.Participants)

		data, err := json.Marshal(pc)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}

// Participants returns the stored attendance list sorted by id, and the time
// of the last sync. A zero time means nothing is stored.
func (s *Store) Participants(assemblyID int64) ([]domain.Participant, time.Time, error) {
	var pc ParticipantCache
	found, err := s.get(participantsKey(assemblyID), &pc)
	if err != nil || !found {
		return []domain.Participant{}, time.Time{}, err
	}

	out := make([]domain.Participant, 0, len(pc.Participants))
	for _, p := range pc.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, pc.LastSync, nil
}

// ClearParticipants drops the attendance list of an assembly
func (s *Store) ClearParticipants(assemblyID int64) error {
	return s.delete(participantsKey(assemblyID))
}

func participantsKey(assemblyID int64) string {
	return keyParticipantsPrefix + strconv.FormatInt(assemblyID, 10)
}

func (s *Store) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, v interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}
