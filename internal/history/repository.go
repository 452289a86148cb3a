package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smart-meal-manager/internal/analysis"
)

const (
	// MaxEntries is the number of sessions kept.
	MaxEntries = 10
	// DateLayout renders dates the way ja-JP locales print them.
	DateLayout = "2006/1/2 15:04:05"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history entry not found")

// Entry is a snapshot of a finished session.
type Entry struct {
	ID          string                `json:"id"`
	Date        string                `json:"date"`
	Ingredients []analysis.Ingredient `json:"ingredients"`
}

// Repository stores the session history in SQLite, newest first.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Save records a finished session. An existing entry with the same id is
// replaced and moves to the front; entries beyond MaxEntries are dropped.
func (r *Repository) Save(ctx context.Context, id string, ingredients []analysis.Ingredient) (Entry, error) {
	if ingredients == nil {
		ingredients = []analysis.Ingredient{}
	}
	entry := Entry{ID: id, Date: r.now().Format(DateLayout), Ingredients: ingredients}

	data, err := json.Marshal(entry.Ingredients)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal ingredients: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id); err != nil {
		return Entry{}, fmt.Errorf("failed to remove previous entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (id, date, ingredients) VALUES (?, ?, ?)`,
		entry.ID, entry.Date, string(data),
	); err != nil {
		return Entry{}, fmt.Errorf("failed to insert history entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE seq NOT IN (SELECT seq FROM history ORDER BY seq DESC LIMIT ?)`,
		MaxEntries,
	); err != nil {
		return Entry{}, fmt.Errorf("failed to trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("failed to commit history entry: %w", err)
	}
	return entry, nil
}

// List returns the stored entries, newest first.
func (r *Repository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, ingredients FROM history ORDER BY seq DESC LIMIT ?`, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns a single entry.
func (r *Repository) Get(ctx context.Context, id string) (Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, date, ingredients FROM history WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Clear removes every entry.
func (r *Repository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var raw string
	if err := s.Scan(&e.ID, &e.Date, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to scan history entry: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &e.Ingredients); err != nil {
		return Entry{}, fmt.Errorf("failed to decode ingredients of %s: %w", e.ID, err)
	}
	return e, nil
}
