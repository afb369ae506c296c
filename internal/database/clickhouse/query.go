package clickhouse

import (
	"context"
	"fmt"
	"time"

	"can-bus-simulator/internal/models"
)

// whereClause appends the archive filters shared by every read query
func whereClause(query string, params models.QueryParams) (string, []any) {
	args := []any{}

	if params.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, *params.StartTime)
	}
	if params.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, *params.EndTime)
	}
	if params.FrameID != "" {
		if canID, err := models.ParseID(params.FrameID); err == nil {
			query += " AND can_id = ?"
			args = append(args, canID)
		} else {
			query += " AND id = ?"
			args = append(args, params.FrameID)
		}
	}
	if params.Event != "" {
		query += " AND event = ?"
		args = append(args, params.Event)
	}

	return query, args
}

func buildFrameQuery(tableName string, params models.QueryParams) (string, []any) {
	query := fmt.Sprintf(`
		SELECT timestamp, id, data, event, label, injected, change_detected
		FROM %s
		WHERE 1=1`, tableName)

	query, args := whereClause(query, params)
	query += " ORDER BY timestamp DESC"

	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}
	if params.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, params.Offset)
	}

	return query, args
}

func buildCountQuery(tableName string, params models.QueryParams) (string, []any) {
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE 1=1", tableName)
	return whereClause(query, params)
}

func buildIDStatsQuery(tableName string, params models.QueryParams) (string, []any) {
	query := fmt.Sprintf(`
		SELECT
			id,
			count(*) as message_count,
			min(timestamp) as first_seen,
			max(timestamp) as last_seen
		FROM %s
		WHERE 1=1`, tableName)

	query, args := whereClause(query, params)
	query += " GROUP BY id ORDER BY message_count DESC"
	return query, args
}

// QueryFrames returns archived frames newest first
func (w *Writer) QueryFrames(ctx context.Context, params models.QueryParams) ([]models.ArchivedFrame, error) {
	query, args := buildFrameQuery(w.config.Table, params)

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	frames := []models.ArchivedFrame{}
	for rows.Next() {
		var f models.ArchivedFrame
		if err := rows.Scan(&f.Timestamp, &f.ID, &f.Payload, &f.Event, &f.Label, &f.Injected, &f.ChangeDetected); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}

	return frames, nil
}

// CountFrames returns the number of archived frames matching params
func (w *Writer) CountFrames(ctx context.Context, params models.QueryParams) (uint64, error) {
	query, args := buildCountQuery(w.config.Table, params)

	var count uint64
	if err := w.conn.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

// IDStats groups archived frames by id
func (w *Writer) IDStats(ctx context.Context, params models.QueryParams) ([]models.ArchivedIDStats, error) {
	query, args := buildIDStatsQuery(w.config.Table, params)

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query id stats: %w", err)
	}
	defer rows.Close()

	stats := []models.ArchivedIDStats{}
	for rows.Next() {
		var (
			s         models.ArchivedIDStats
			firstSeen time.Time
			lastSeen  time.Time
		)
		if err := rows.Scan(&s.ID, &s.Count, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan id stats: %w", err)
		}
		s.FirstSeen, s.LastSeen = firstSeen, lastSeen
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read id stats: %w", err)
	}

	return stats, nil
}
