package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smart-meal-manager/internal/mealapi"
)

const timestampLayout = "2006-01-02 15:04:05"

// Store handles persistence of backend call metrics to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// RecordCall saves one backend call. It satisfies mealapi.Recorder.
func (s *Store) RecordCall(c mealapi.Call) error {
	failed := 0
	if c.Failed {
		failed = 1
	}
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO api_calls (endpoint, status_code, latency_ms, failed, timestamp) VALUES (?, ?, ?, ?, ?)`,
		c.Endpoint, c.StatusCode, c.Latency.Milliseconds(), failed, s.now().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// EndpointUsage summarises the calls made to one endpoint.
type EndpointUsage struct {
	Endpoint     string
	Calls        int
	Failures     int
	AvgLatencyMS int64
	MaxLatencyMS int64
}

// GetEndpointUsage returns per-endpoint totals for the last N days, busiest first.
func (s *Store) GetEndpointUsage(days int) ([]EndpointUsage, error) {
	since := s.now().AddDate(0, 0, -days).Format(timestampLayout)
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT endpoint, COUNT(*), SUM(failed), AVG(latency_ms), MAX(latency_ms)
		FROM api_calls
		WHERE timestamp >= ?
		GROUP BY endpoint
		ORDER BY COUNT(*) DESC, endpoint`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var results []EndpointUsage
	for rows.Next() {
		var u EndpointUsage
		var avg sql.NullFloat64
		var maxLatency sql.NullInt64
		if err := rows.Scan(&u.Endpoint, &u.Calls, &u.Failures, &avg, &maxLatency); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		if avg.Valid {
			u.AvgLatencyMS = int64(avg.Float64)
		}
		if maxLatency.Valid {
			u.MaxLatencyMS = maxLatency.Int64
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// DailyUsage represents call totals for a single day.
type DailyUsage struct {
	Date     string
	Calls    int
	Failures int
}

// GetDailyUsage retrieves usage for the last N days.
func (s *Store) GetDailyUsage(days int) ([]DailyUsage, error) {
	since := s.now().AddDate(0, 0, -days).Format(timestampLayout)
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT substr(timestamp, 1, 10) AS day, COUNT(*), SUM(failed)
		FROM api_calls
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.Calls, &u.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays).Format(timestampLayout)
	res, err := s.db.ExecContext(context.Background(), `DELETE FROM api_calls WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up metrics: %w", err)
	}
	return res.RowsAffected()
}
