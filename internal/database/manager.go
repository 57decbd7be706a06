package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "habitat/pkg/database"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

// Manager is the sqlite session journal. Reads use the pool; every write
// goes through one writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration
	logger       zerolog.Logger

	closed bool
	mu     sync.RWMutex
}

var _ interfaces.Journal = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the journal and applies pending migrations.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if config.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		logger:       logger.With().Str("component", "journal").Logger(),
	}

	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info().Str("path", config.DatabasePath).Msg("journal opened")
	return m, nil
}

// writeLoop runs every write, retrying a failed one once after retryDelay.
// A missing run is not retried.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !errors.Is(err, interfaces.ErrRunNotFound) {
				m.logger.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("journal write failed")
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error().Err(err).Msg("journal write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrJournalClosed
	}

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrJournalClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrJournalClosed
	}
}

// RecordSessionStart inserts the run row for a newly created session.
func (m *Manager) RecordSessionStart(ctx context.Context, rec *interfaces.SessionRecord) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(context.WithoutCancel(ctx), `
			INSERT INTO session_runs (run_id, session_id, host_name, created_at)
			VALUES (?, ?, ?, ?)
		`, rec.RunID, rec.SessionID, rec.HostName, rec.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert session run: %w", err)
		}
		return nil
	})
}

// RecordSessionEnd stamps the run's end time.
func (m *Manager) RecordSessionEnd(ctx context.Context, runID string, endedAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(context.WithoutCancel(ctx),
			`UPDATE session_runs SET ended_at = ? WHERE run_id = ?`, endedAt.UTC(), runID)
		if err != nil {
			return fmt.Errorf("failed to update session run: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrRunNotFound
		}
		return nil
	})
}

// StoreChat appends one chat line to the run.
func (m *Manager) StoreChat(ctx context.Context, runID string, msg types.ChatMessage) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(context.WithoutCancel(ctx), `
			INSERT INTO chat_messages (run_id, player_id, player_name, text, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, runID, msg.PlayerID, msg.PlayerName, msg.Text, msg.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
}

// RecordIncident stores a resolved incident.
func (m *Manager) RecordIncident(ctx context.Context, runID string, ev types.ActiveEvent) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(context.WithoutCancel(ctx), `
			INSERT OR REPLACE INTO incidents (id, run_id, type, start_time, end_time, resolved_manually)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ev.ID, runID, ev.Type, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.ResolvedManually)
		if err != nil {
			return fmt.Errorf("failed to insert incident: %w", err)
		}
		return nil
	})
}

// RecordMission upserts a mission's latest state.
func (m *Manager) RecordMission(ctx context.Context, runID string, mission types.ActiveMission) error {
	players, err := json.Marshal(mission.PlayersInvolved)
	if err != nil {
		return fmt.Errorf("failed to marshal mission players: %w", err)
	}
	var completedAt any
	if mission.Status == types.MissionCompleted && mission.EndTime != nil {
		completedAt = mission.EndTime.UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(context.WithoutCancel(ctx), `
			INSERT OR REPLACE INTO missions (id, run_id, mission_id, status, players, completed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, mission.ID, runID, mission.MissionID, string(mission.Status), string(players), completedAt)
		if err != nil {
			return fmt.Errorf("failed to insert mission: %w", err)
		}
		return nil
	})
}

// GetRun returns one run row.
func (m *Manager) GetRun(ctx context.Context, runID string) (*interfaces.SessionRecord, error) {
	var (
		rec   interfaces.SessionRecord
		ended sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT run_id, session_id, host_name, created_at, ended_at
		FROM session_runs WHERE run_id = ?
	`, runID).Scan(&rec.RunID, &rec.SessionID, &rec.HostName, &rec.CreatedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session run: %w", err)
	}
	if ended.Valid {
		rec.EndedAt = &ended.Time
	}
	return &rec, nil
}

// ChatHistory returns up to limit of the latest chat lines of the most
// recent run of sessionID, oldest first. A non-positive limit returns all.
func (m *Manager) ChatHistory(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	var runID string
	err := m.db.QueryRowContext(ctx, `
		SELECT run_id FROM session_runs
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, sessionID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT player_id, player_name, text, timestamp
		FROM chat_messages
		WHERE run_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []types.ChatMessage{}
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.PlayerID, &msg.PlayerName, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// HealthCheck pings the database and runs a trivial read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_runs").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying pool.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.logger.Info().Msg("journal closed")
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
