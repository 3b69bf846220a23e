package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Warehouse is the read side of the SQL warehouse that the append-only
// logs are loaded into.
type Warehouse struct {
	pool *pgxpool.Pool
}

func NewWarehouse(pool *pgxpool.Pool) *Warehouse {
	return &Warehouse{pool: pool}
}

type VideoRef struct {
	VideoID    string
	ChannelID  string
	Title      string
	UploadDate time.Time
}

// Row is one result row keyed by column name.
type Row map[string]any

const videosWithNoRecsSQL = `
SELECT v.video_id, v.channel_id, COALESCE(v.video_title, ''), v.upload_date
FROM video_latest v
WHERE v.channel_id = $1
  AND NOT EXISTS (SELECT 1 FROM rec r WHERE r.from_video_id = v.video_id)
ORDER BY v.upload_date DESC`

// VideosWithNoRecs lists a channel's videos that have never had a
// recommendation edge recorded, newest first.
func (w *Warehouse) VideosWithNoRecs(ctx context.Context, channelID string) ([]VideoRef, error) {
	return w.videoRefs(ctx, videosWithNoRecsSQL, channelID)
}

const recentVideosPerChannelSQL = `
SELECT video_id, channel_id, video_title, upload_date FROM (
  SELECT v.video_id, v.channel_id, COALESCE(v.video_title, '') AS video_title, v.upload_date,
         ROW_NUMBER() OVER (PARTITION BY v.channel_id ORDER BY v.upload_date DESC) AS rn
  FROM video_latest v
  JOIN channel_latest c ON c.channel_id = v.channel_id
  WHERE c.status = 'Alive'
) t
WHERE rn <= $1
ORDER BY channel_id, upload_date DESC`

// RecentVideosPerChannel returns up to perChannel of the newest videos of
// every live channel.
func (w *Warehouse) RecentVideosPerChannel(ctx context.Context, perChannel int) ([]VideoRef, error) {
	if perChannel <= 0 {
		return nil, fmt.Errorf("perChannel must be positive")
	}
	return w.videoRefs(ctx, recentVideosPerChannelSQL, perChannel)
}

func (w *Warehouse) videoRefs(ctx context.Context, sql string, args ...any) ([]VideoRef, error) {
	rows, err := w.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, queryErr("query videos", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (VideoRef, error) {
		var r VideoRef
		err := row.Scan(&r.VideoID, &r.ChannelID, &r.Title, &r.UploadDate)
		return r, err
	})
	if err != nil {
		return nil, queryErr("scan videos", err)
	}
	return refs, nil
}

// StreamRows runs sql and hands each row to fn as it arrives. fn returning
// an error stops the stream.
func (w *Warehouse) StreamRows(ctx context.Context, sql string, args []any, fn func(Row) error) error {
	rows, err := w.pool.Query(ctx, sql, args...)
	if err != nil {
		return queryErr("query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[f.Name] = rowValue(values[i])
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return queryErr("query", err)
	}
	return nil
}
