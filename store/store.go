// Package store is the persistence edge: a read-only question bank plus
// best-effort game history rows. Everything the game core needs from it is
// RandomQuestions; the rest is an append-only side effect.
package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type Question struct {
	ID            int64
	Text          string
	OptionA       string
	OptionB       string
	OptionC       string
	OptionD       string
	CorrectOption string // "A".."D"
	Category      string
	Difficulty    int
}

// Options returns the four answer texts keyed by letter, the shape every
// phase-start payload uses.
func (q Question) Options() map[string]string {
	return map[string]string{"A": q.OptionA, "B": q.OptionB, "C": q.OptionC, "D": q.OptionD}
}

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			option_a TEXT NOT NULL,
			option_b TEXT NOT NULL,
			option_c TEXT NOT NULL,
			option_d TEXT NOT NULL,
			correct_option CHAR(1) NOT NULL,
			category TEXT DEFAULT 'general',
			difficulty INTEGER DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pin VARCHAR(6) NOT NULL,
			mode TEXT NOT NULL,
			status TEXT DEFAULT 'lobby',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS game_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id INTEGER NOT NULL,
			nickname TEXT NOT NULL,
			question_id INTEGER NOT NULL,
			answer CHAR(1),
			correct BOOLEAN,
			points_earned INTEGER DEFAULT 0,
			response_time_ms INTEGER,
			FOREIGN KEY (game_id) REFERENCES games(id),
			FOREIGN KEY (question_id) REFERENCES questions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_game ON game_history(game_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RandomQuestions draws a uniform sample without replacement.
func (s *Store) RandomQuestions(n int) ([]Question, error) {
	rows, err := s.db.Query(
		`SELECT id, text, option_a, option_b, option_c, option_d, correct_option, category, difficulty
		 FROM questions ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Text, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD,
			&q.CorrectOption, &q.Category, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) CountQuestions() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// GameStarted opens a history record for a session. History is best-effort:
// failures are logged, never surfaced to gameplay.
func (s *Store) GameStarted(pin, mode string) int64 {
	res, err := s.db.Exec(`INSERT INTO games (pin, mode, status) VALUES (?, ?, 'playing')`, pin, mode)
	if err != nil {
		s.log.Warn().Err(err).Str("pin", pin).Msg("history: game insert failed")
		return 0
	}
	id, _ := res.LastInsertId()
	return id
}

func (s *Store) GameFinished(gameID int64) {
	if gameID == 0 {
		return
	}
	_, err := s.db.Exec(
		`UPDATE games SET status = 'finished', finished_at = CURRENT_TIMESTAMP WHERE id = ?`, gameID)
	if err != nil {
		s.log.Warn().Err(err).Int64("game", gameID).Msg("history: game finish failed")
	}
}

func (s *Store) AnswerRecorded(gameID int64, nickname string, questionID int64, answer string, correct bool, points int, responseMs int64) {
	if gameID == 0 {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO game_history (game_id, nickname, question_id, answer, correct, points_earned, response_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		gameID, nickname, questionID, answer, correct, points, responseMs)
	if err != nil {
		s.log.Warn().Err(err).Int64("game", gameID).Msg("history: answer insert failed")
	}
}
