package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skobkin/myolink/internal/domain"
)

type RecordingRepo struct {
	db *sql.DB
}

func NewRecordingRepo(db *sql.DB) *RecordingRepo {
	return &RecordingRepo{db: db}
}

func (r *RecordingRepo) Insert(ctx context.Context, rec domain.Recording) error {
	counts := rec.Counts
	if counts == nil {
		counts = domain.NewCounts()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recordings(id, path, device, started_at, saved_at, emg_left_count, emg_right_count, acc_count, gyr_count, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			device = excluded.device,
			started_at = excluded.started_at,
			saved_at = excluded.saved_at,
			emg_left_count = excluded.emg_left_count,
			emg_right_count = excluded.emg_right_count,
			acc_count = excluded.acc_count,
			gyr_count = excluded.gyr_count,
			size_bytes = excluded.size_bytes
	`, rec.ID, rec.Path, nullableString(rec.Device), toUnixMillis(rec.StartedAt), toUnixMillis(rec.SavedAt),
		counts[domain.ChannelEmgLeft], counts[domain.ChannelEmgRight], counts[domain.ChannelAcc], counts[domain.ChannelGyr],
		rec.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

const recordingColumns = `id, path, device, started_at, saved_at, emg_left_count, emg_right_count, acc_count, gyr_count, size_bytes`

func (r *RecordingRepo) ListSortedBySavedAt(ctx context.Context) ([]domain.Recording, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordingColumns+` FROM recordings ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return out, nil
}

func (r *RecordingRepo) Get(ctx context.Context, id string) (domain.Recording, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recording{}, fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, id)
	}
	if err != nil {
		return domain.Recording{}, err
	}
	return rec, nil
}

func (r *RecordingRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (domain.Recording, error) {
	var (
		rec                          domain.Recording
		device                       sql.NullString
		startedMs, savedMs           int64
		emgLeft, emgRight, acc, gyro int64
	)
	if err := row.Scan(&rec.ID, &rec.Path, &device, &startedMs, &savedMs, &emgLeft, &emgRight, &acc, &gyro, &rec.SizeBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Recording{}, err
		}
		return domain.Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	if device.Valid {
		rec.Device = device.String
	}
	rec.StartedAt = fromUnixMillis(startedMs)
	rec.SavedAt = fromUnixMillis(savedMs)
	rec.Counts = domain.Counts{
		domain.ChannelEmgLeft:  emgLeft,
		domain.ChannelEmgRight: emgRight,
		domain.ChannelAcc:      acc,
		domain.ChannelGyr:      gyro,
	}

	return rec, nil
}
