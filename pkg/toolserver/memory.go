package toolserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fleetworthy/salesagent/pkg/config"
	"github.com/fleetworthy/salesagent/pkg/mcp"
)

// Memory server operations.
const (
	OpMemoryPut    = "put"
	OpMemoryGet    = "get"
	OpMemoryList   = "list"
	OpMemoryDelete = "delete"
)

// ConversationStore persists conversation records keyed by ID. Records are
// opaque JSON documents; the orchestrator owns their shape.
type ConversationStore interface {
	Put(ctx context.Context, id string, record map[string]any) error
	Get(ctx context.Context, id string) (map[string]any, bool, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// NewConversationStore builds the configured backend.
func NewConversationStore(cfg *config.MemoryConfig) (ConversationStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return newSQLiteStore(cfg.Path)
	case "memory", "":
		return newInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend: %q", cfg.Backend)
	}
}

// MemoryServer exposes the conversation store as a tool server.
type MemoryServer struct {
	store ConversationStore
}

func NewMemoryServer(store ConversationStore) *MemoryServer {
	return &MemoryServer{store: store}
}

type MemoryPutRequest struct {
	ConversationID string         `json:"conversation_id"`
	Record         map[string]any `json:"record"`
}

type MemoryGetRequest struct {
	ConversationID string `json:"conversation_id"`
}

type MemoryGetResponse struct {
	Record map[string]any `json:"record,omitempty"`
	Found  bool           `json:"found"`
}

type MemoryListResponse struct {
	ConversationIDs []string `json:"conversation_ids"`
}

func (s *MemoryServer) Descriptor(timeout time.Duration) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{
		Name:        ServerMemory,
		Description: "Conversation history and session facts",
		Timeout:     timeout,
		Capabilities: []mcp.Capability{
			{
				Operation:     OpMemoryPut,
				Description:   "Store a conversation record",
				RequestSchema: mcp.SchemaFor(&MemoryPutRequest{}),
			},
			{
				Operation:      OpMemoryGet,
				Description:    "Load a conversation record",
				RequestSchema:  mcp.SchemaFor(&MemoryGetRequest{}),
				ResponseSchema: mcp.SchemaFor(&MemoryGetResponse{}),
			},
			{
				Operation:      OpMemoryList,
				Description:    "List stored conversation IDs",
				RequestSchema:  mcp.SchemaFor(&emptyRequest{}),
				ResponseSchema: mcp.SchemaFor(&MemoryListResponse{}),
			},
			{
				Operation:     OpMemoryDelete,
				Description:   "Delete a conversation record",
				RequestSchema: mcp.SchemaFor(&MemoryGetRequest{}),
			},
		},
	}
}

func (s *MemoryServer) Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	switch operation {
	case OpMemoryPut:
		var req MemoryPutRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.ConversationID == "" {
			return nil, fmt.Errorf("conversation_id cannot be empty")
		}
		if err := s.store.Put(ctx, req.ConversationID, req.Record); err != nil {
			return nil, err
		}
		return map[string]any{"stored": true}, nil

	case OpMemoryGet:
		var req MemoryGetRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		record, found, err := s.store.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		return encode(MemoryGetResponse{Record: record, Found: found})

	case OpMemoryList:
		ids, err := s.store.List(ctx)
		if err != nil {
			return nil, err
		}
		return encode(MemoryListResponse{ConversationIDs: ids})

	case OpMemoryDelete:
		var req MemoryGetRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := s.store.Delete(ctx, req.ConversationID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil

	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func (s *MemoryServer) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// sqliteStore persists conversation records in a single-table SQLite file.
type sqliteStore struct {
	db *sql.DB
}

func newSQLiteStore(path string) (*sqliteStore, error) {
	if path == "" {
		path = "salesagent.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time keeps SQLite happy under the worker pool.
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			record     TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Put(ctx context.Context, id string, record map[string]any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, record, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = CURRENT_TIMESTAMP`,
		id, string(data))
	if err != nil {
		return fmt.Errorf("failed to store conversation %q: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (map[string]any, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM conversations WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load conversation %q: %w", id, err)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, false, fmt.Errorf("corrupt record for conversation %q: %w", id, err)
	}
	return record, true, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation %q: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// inMemoryStore is the default backend for tests and zero-config runs.
type inMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{records: make(map[string]map[string]any)}
}

func (s *inMemoryStore) Put(_ context.Context, id string, record map[string]any) error {
	// Deep-copy through JSON so callers cannot mutate stored state.
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = copied
	return nil
}

func (s *inMemoryStore) Get(_ context.Context, id string) (map[string]any, bool, error) {
	s.mu.RLock()
	record, found := s.records[id]
	s.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, err
	}
	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, false, err
	}
	return copied, true, nil
}

func (s *inMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *inMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *inMemoryStore) Ping(_ context.Context) error { return nil }
func (s *inMemoryStore) Close() error                 { return nil }

var _ mcp.Handler = (*MemoryServer)(nil)
