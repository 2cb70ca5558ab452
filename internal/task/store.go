package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"enmap/internal/types"
)

// ErrTaskNotFound is returned for unknown task identifiers.
var ErrTaskNotFound = errors.New("task not found")

// Store persists task status snapshots. Semantics are last-write-wins: the
// orchestrator is the only writer and always writes monotonically newer
// snapshots.
type Store interface {
	Put(task *types.BatchTask) error
	Get(taskID string) (*types.BatchTask, error)
	Close() error
}

// MemoryStore keeps task snapshots in process. Suitable for library
// embedding and tests; state is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*types.BatchTask
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*types.BatchTask)}
}

func (s *MemoryStore) Put(task *types.BatchTask) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("task snapshot missing taskId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task.Clone()
	return nil
}

func (s *MemoryStore) Get(taskID string) (*types.BatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }

// SQLiteStore persists snapshots to a local database so the status and
// results of finished runs survive process restarts. The whole task is one
// JSON payload; the table only indexes what the CLI queries by.
type SQLiteStore struct {
	db *sql.DB
}

const tasksSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// OpenSQLiteStore opens (creating if needed) a task store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("task database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create task database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open task database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping task database: %w", err)
	}
	if _, err := db.Exec(tasksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create task schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(task *types.BatchTask) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("task snapshot missing taskId")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.TaskID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (task_id, status, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		task.TaskID, string(task.Status), string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("failed to persist task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(taskID string) (*types.BatchTask, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM tasks WHERE task_id = ?`, taskID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	var task types.BatchTask
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
