// Package store persists experiment sessions, episodes, and steps in SQLite
// and computes session summaries with exact bonus arithmetic.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Session is one participant-facing run of an experiment.
type Session struct {
	ID            string     `json:"id"`
	EnvName       string     `json:"envName"`
	ConfigJSON    string     `json:"configJson"`
	CreatedAt     time.Time  `json:"createdAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	FinalState    string     `json:"finalState"`
	TotalEpisodes int        `json:"totalEpisodes"`
	TotalSteps    int        `json:"totalSteps"`
	TotalReward   float64    `json:"totalReward"`
}

// Episode records one completed episode's totals.
type Episode struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"sessionId"`
	EpisodeNum  int       `json:"episodeNum"`
	Steps       int       `json:"steps"`
	TotalReward float64   `json:"totalReward"`
	RewardsJSON string    `json:"rewardsJson"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StepRecord is one environment step: the actions that went in and the
// rewards that came out.
type StepRecord struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"sessionId"`
	EpisodeNum  int       `json:"episodeNum"`
	StepNum     int       `json:"stepNum"`
	ActionsJSON string    `json:"actionsJson"`
	RewardsJSON string    `json:"rewardsJson"`
	LatencyMs   float64   `json:"latencyMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database and enables WAL.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Migrate creates the schema. Base tables first, then additive columns
// (tolerating duplicates from earlier versions), then indexes.
func (s *Store) Migrate() error {
	baseMigrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			env_name TEXT NOT NULL DEFAULT '',
			config_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			final_state TEXT NOT NULL DEFAULT 'active',
			total_episodes INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL DEFAULT 0,
			total_reward REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			episode_num INTEGER NOT NULL,
			steps INTEGER NOT NULL DEFAULT 0,
			total_reward REAL NOT NULL DEFAULT 0,
			rewards_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			episode_num INTEGER NOT NULL,
			step_num INTEGER NOT NULL,
			actions_json TEXT NOT NULL DEFAULT '{}',
			rewards_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
	}
	for _, m := range baseMigrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("store: base migration: %w", err)
		}
	}

	alterMigrations := []string{
		`ALTER TABLE steps ADD COLUMN latency_ms REAL NOT NULL DEFAULT 0`,
	}
	for _, m := range alterMigrations {
		if _, err := s.db.Exec(m); err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("store: alter migration: %w", err)
		}
	}

	indexMigrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id, episode_num)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id, episode_num, step_num)`,
	}
	for _, m := range indexMigrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("store: index migration: %w", err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}

// CreateSession inserts a new session and returns its id.
func (s *Store) CreateSession(envName string, config any) (string, error) {
	id := uuid.NewString()
	configJSON := "{}"
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return "", fmt.Errorf("store: encode config: %w", err)
		}
		configJSON = string(raw)
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, env_name, config_json, final_state) VALUES (?, ?, ?, 'active')`,
		id, envName, configJSON,
	)
	if err != nil {
		return "", fmt.Errorf("store: create session: %w", err)
	}
	return id, nil
}

// EndSession marks a session ended with final totals.
func (s *Store) EndSession(id, finalState string, episodes, steps int, totalReward float64) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, final_state = ?, total_episodes = ?, total_steps = ?, total_reward = ?
		 WHERE id = ?`,
		time.Now(), finalState, episodes, steps, totalReward, id,
	)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

// InsertEpisode records a completed episode.
func (s *Store) InsertEpisode(ep *Episode) error {
	res, err := s.db.Exec(
		`INSERT INTO episodes (session_id, episode_num, steps, total_reward, rewards_json)
		 VALUES (?, ?, ?, ?, ?)`,
		ep.SessionID, ep.EpisodeNum, ep.Steps, ep.TotalReward, orBrace(ep.RewardsJSON),
	)
	if err != nil {
		return fmt.Errorf("store: insert episode: %w", err)
	}
	ep.ID, _ = res.LastInsertId()
	return nil
}

// InsertStepsBatch records steps in one transaction.
func (s *Store) InsertStepsBatch(records []StepRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO steps (session_id, episode_num, step_num, actions_json, rewards_json, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.SessionID, r.EpisodeNum, r.StepNum,
			orBrace(r.ActionsJSON), orBrace(r.RewardsJSON), r.LatencyMs); err != nil {
			return fmt.Errorf("store: insert step %d/%d: %w", r.EpisodeNum, r.StepNum, err)
		}
	}
	return tx.Commit()
}

func orBrace(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// GetSession fetches a session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(
		`SELECT id, env_name, config_json, created_at, ended_at, final_state,
		        total_episodes, total_steps, total_reward
		 FROM sessions WHERE id = ?`, id,
	).Scan(
		&sess.ID, &sess.EnvName, &sess.ConfigJSON, &sess.CreatedAt, &sess.EndedAt,
		&sess.FinalState, &sess.TotalEpisodes, &sess.TotalSteps, &sess.TotalReward,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: session %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest-first.
func (s *Store) ListSessions(limit, offset int) ([]Session, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count sessions: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, env_name, config_json, created_at, ended_at, final_state,
		        total_episodes, total_steps, total_reward
		 FROM sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess := Session{}
		if err := rows.Scan(
			&sess.ID, &sess.EnvName, &sess.ConfigJSON, &sess.CreatedAt, &sess.EndedAt,
			&sess.FinalState, &sess.TotalEpisodes, &sess.TotalSteps, &sess.TotalReward,
		); err != nil {
			return nil, 0, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// ListEpisodes returns a session's episodes in order.
func (s *Store) ListEpisodes(sessionID string) ([]Episode, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, episode_num, steps, total_reward, rewards_json, created_at
		 FROM episodes WHERE session_id = ? ORDER BY episode_num`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		ep := Episode{}
		if err := rows.Scan(&ep.ID, &ep.SessionID, &ep.EpisodeNum, &ep.Steps,
			&ep.TotalReward, &ep.RewardsJSON, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// ListSteps returns a session's steps ordered by episode and step number.
func (s *Store) ListSteps(sessionID string) ([]StepRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, episode_num, step_num, actions_json, rewards_json, latency_ms, created_at
		 FROM steps WHERE session_id = ? ORDER BY episode_num, step_num`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list steps: %w", err)
	}
	defer rows.Close()

	var records []StepRecord
	for rows.Next() {
		r := StepRecord{}
		if err := rows.Scan(&r.ID, &r.SessionID, &r.EpisodeNum, &r.StepNum,
			&r.ActionsJSON, &r.RewardsJSON, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary is a session roll-up including the participant's bonus payout.
type Summary struct {
	SessionID   string          `json:"sessionId"`
	EnvName     string          `json:"envName"`
	FinalState  string          `json:"finalState"`
	Episodes    int             `json:"episodes"`
	Steps       int             `json:"steps"`
	TotalReward decimal.Decimal `json:"totalReward"`
	BonusRate   decimal.Decimal `json:"bonusRate"`
	Bonus       decimal.Decimal `json:"bonus"`
}

// SessionSummary computes a session's totals and its bonus payout at the
// given rate (currency per reward point, rounded to cents).
func (s *Store) SessionSummary(id string, bonusRate decimal.Decimal) (*Summary, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	episodes, err := s.ListEpisodes(id)
	if err != nil {
		return nil, err
	}

	totalSteps := sess.TotalSteps
	reward := decimal.NewFromFloat(sess.TotalReward)
	if sess.EndedAt == nil {
		// Active session: roll up from what the episodes recorded so far.
		reward = decimal.Zero
		totalSteps = 0
		for _, ep := range episodes {
			reward = reward.Add(decimal.NewFromFloat(ep.TotalReward))
			totalSteps += ep.Steps
		}
	}

	return &Summary{
		SessionID:   sess.ID,
		EnvName:     sess.EnvName,
		FinalState:  sess.FinalState,
		Episodes:    len(episodes),
		Steps:       totalSteps,
		TotalReward: reward,
		BonusRate:   bonusRate,
		Bonus:       bonusRate.Mul(reward).Round(2),
	}, nil
}
