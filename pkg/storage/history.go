package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedRecord = errors.New("record kind cannot be stored")
)

// StoredRecord is one persisted frame
type StoredRecord struct {
	ID        int64
	Key       string // session id, invite hash or lobby id
	Subtype   uint8
	Frame     []byte
	Timestamp int64
	ExpiresAt int64 // 0 = kept until deleted
}

// Config for the history store
type Config struct {
	// TTL bounds how long chat records are kept
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:             30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// HistoryStore keeps chat records as frames in SQLite. Records use the same
// frame layout as live items, so a checkpoint export is a concatenation of
// the stored frames.
type HistoryStore struct {
	db       *sql.DB
	config   *Config
	registry *protocol.Registry

	stop chan struct{}
	once sync.Once
}

// NewHistoryStore opens (or creates) a history database
func NewHistoryStore(dbPath string, config *Config) (*HistoryStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TTL == 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %v", err)
	}

	store := &HistoryStore{
		db:       db,
		config:   config,
		registry: chat.NewRegistry(),
		stop:     make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	go store.cleanupExpiredRecords()

	return store, nil
}

// initSchema creates the database schema
func (s *HistoryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_key TEXT NOT NULL,
		subtype INTEGER NOT NULL,
		frame BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Index for loading one session or one kind
	CREATE INDEX IF NOT EXISTS idx_records_key ON records(subtype, record_key);

	-- Index for expiration cleanup
	CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// recordKey picks the lookup key and expiry of a storable record
func (s *HistoryStore) recordKey(it protocol.Item, now time.Time) (string, int64, error) {
	switch rec := it.(type) {
	case *chat.PrivateChatRecord:
		return rec.ConfigPeerID.String(), now.Add(s.config.TTL).Unix(), nil
	case *chat.DistantInviteRecord:
		return rec.Hash.String(), int64(rec.ValidUntil), nil
	case *chat.LobbyConfig:
		return strconv.FormatUint(rec.LobbyID, 10), 0, nil
	default:
		return "", 0, fmt.Errorf("%w: %T", ErrUnsupportedRecord, it)
	}
}

// SaveRecord stores a PrivateChatRecord, DistantInviteRecord or LobbyConfig
func (s *HistoryStore) SaveRecord(it protocol.Item) error {
	now := time.Now()
	key, expiresAt, err := s.recordKey(it, now)
	if err != nil {
		return err
	}

	frame, err := protocol.Serialize(it)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	query := `
		INSERT INTO records (record_key, subtype, frame, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query, key, it.Subtype(), frame, now.Unix(), expiresAt); err != nil {
		return fmt.Errorf("failed to save record: %v", err)
	}

	return nil
}

// ArchiveMessage stores a chat message record
func (s *HistoryStore) ArchiveMessage(rec *chat.PrivateChatRecord) error {
	return s.SaveRecord(rec)
}

func (s *HistoryStore) queryRecords(query string, args ...any) ([]*StoredRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %v", err)
	}
	defer rows.Close()

	var records []*StoredRecord
	for rows.Next() {
		rec := &StoredRecord{}
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Subtype, &rec.Frame, &rec.Timestamp, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %v", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const selectRecords = `SELECT id, record_key, subtype, frame, timestamp, expires_at FROM records`

// decode turns stored frames back into items; corrupt rows are logged and
// skipped
func (s *HistoryStore) decode(records []*StoredRecord) []protocol.Item {
	items := make([]protocol.Item, 0, len(records))
	for _, rec := range records {
		it, err := s.registry.Deserialize(rec.Frame)
		if err != nil {
			log.Printf("⚠️  Skipping corrupt record %d: %v", rec.ID, err)
			continue
		}
		items = append(items, it)
	}
	return items
}

// LoadRecords returns the stored messages of a session, oldest first
func (s *HistoryStore) LoadRecords(session protocol.PeerID) ([]*chat.PrivateChatRecord, error) {
	now := time.Now().Unix()
	records, err := s.queryRecords(selectRecords+`
		WHERE subtype = ? AND record_key = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY id ASC`, chat.SubtypePrivateChatRecord, session.String(), now)
	if err != nil {
		return nil, err
	}

	var out []*chat.PrivateChatRecord
	for _, it := range s.decode(records) {
		if rec, ok := it.(*chat.PrivateChatRecord); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LoadInvite returns the invite record with the given hash
func (s *HistoryStore) LoadInvite(hash protocol.Hash) (*chat.DistantInviteRecord, error) {
	records, err := s.queryRecords(selectRecords+`
		WHERE subtype = ? AND record_key = ?
		ORDER BY id DESC LIMIT 1`, chat.SubtypeDistantInviteRecord, hash.String())
	if err != nil {
		return nil, err
	}

	for _, it := range s.decode(records) {
		if rec, ok := it.(*chat.DistantInviteRecord); ok {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// LoadLobbyConfigs returns the latest stored config of every lobby
func (s *HistoryStore) LoadLobbyConfigs() ([]*chat.LobbyConfig, error) {
	records, err := s.queryRecords(selectRecords+`
		WHERE id IN (SELECT MAX(id) FROM records WHERE subtype = ? GROUP BY record_key)
		ORDER BY id ASC`, chat.SubtypeLobbyConfig)
	if err != nil {
		return nil, err
	}

	var out []*chat.LobbyConfig
	for _, it := range s.decode(records) {
		if cfg, ok := it.(*chat.LobbyConfig); ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// DeleteRecords removes the stored messages of a session
func (s *HistoryStore) DeleteRecords(session protocol.PeerID) (int64, error) {
	query := `DELETE FROM records WHERE subtype = ? AND record_key = ?`

	result, err := s.db.Exec(query, chat.SubtypePrivateChatRecord, session.String())
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %v", err)
	}

	count, _ := result.RowsAffected()
	log.Printf("🗑️  Deleted %d records for session %s", count, session)
	return count, nil
}

// RecordCount returns the number of live records
func (s *HistoryStore) RecordCount() (int, error) {
	now := time.Now().Unix()
	query := `SELECT COUNT(*) FROM records WHERE expires_at = 0 OR expires_at > ?`

	var count int
	if err := s.db.QueryRow(query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %v", err)
	}
	return count, nil
}

// ExportCheckpoint writes every live record as concatenated frames and
// returns the number of frames written
func (s *HistoryStore) ExportCheckpoint(w io.Writer) (int, error) {
	now := time.Now().Unix()
	records, err := s.queryRecords(selectRecords+`
		WHERE expires_at = 0 OR expires_at > ?
		ORDER BY id ASC`, now)
	if err != nil {
		return 0, err
	}

	for i, rec := range records {
		if _, err := w.Write(rec.Frame); err != nil {
			return i, fmt.Errorf("failed to write checkpoint: %w", err)
		}
	}
	return len(records), nil
}

// ImportCheckpoint stores every decodable record of a checkpoint. Malformed
// frames and kinds that are not records are skipped and counted.
func (s *HistoryStore) ImportCheckpoint(data []byte) (imported, skipped int, err error) {
	items, dropped, splitErr := s.registry.DeserializeAll(data)
	skipped = dropped

	for _, it := range items {
		if err := s.SaveRecord(it); err != nil {
			if errors.Is(err, ErrUnsupportedRecord) {
				skipped++
				continue
			}
			return imported, skipped, err
		}
		imported++
	}

	if splitErr != nil {
		log.Printf("⚠️  Checkpoint ends with an unreadable frame: %v", splitErr)
	}
	log.Printf("✅ Imported %d records (%d skipped)", imported, skipped)
	return imported, skipped, nil
}

// cleanupExpiredRecords periodically removes expired records
func (s *HistoryStore) cleanupExpiredRecords() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if count, err := s.PurgeExpired(); err != nil {
				log.Printf("Failed to cleanup expired records: %v", err)
			} else if count > 0 {
				log.Printf("🧹 Cleaned up %d expired records", count)
			}
		}
	}
}

// PurgeExpired deletes expired records now
func (s *HistoryStore) PurgeExpired() (int64, error) {
	query := `DELETE FROM records WHERE expires_at > 0 AND expires_at <= ?`

	result, err := s.db.Exec(query, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close stops cleanup and closes the database connection
func (s *HistoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return s.db.Close()
}
