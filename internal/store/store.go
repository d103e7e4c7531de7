package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/portrait/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a face id does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL connection for the face collection.
// A Store wraps a single connection and must not be shared between goroutines.
type Store struct {
	conn *pgx.Conn
}

// CollectedFace is one accepted face exported by a batch run.
type CollectedFace struct {
	ID          int64
	ImageID     string
	Path        string
	RunID       uuid.UUID
	FaceID      string
	Box         types.FaceBox
	Target      types.CropRegion
	Quality     string
	BlurLevel   string
	Yaw         float64
	Pitch       float64
	Roll        float64
	MaskCovered bool
	PersonName  string
	CreatedAt   time.Time
}

// BatchRun summarizes one batch invocation.
type BatchRun struct {
	ID         uuid.UUID
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int64
	Accepted   int64
	Invalid    int64
	Failed     int64
	Retries    int64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the collection tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS face_images (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			scanned_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS batch_runs (
			id UUID PRIMARY KEY,
			root TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			total BIGINT NOT NULL,
			accepted BIGINT NOT NULL,
			invalid BIGINT NOT NULL,
			failed BIGINT NOT NULL,
			retries BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS collected_faces (
			id BIGSERIAL PRIMARY KEY,
			image_id TEXT NOT NULL REFERENCES face_images(id) ON DELETE CASCADE,
			run_id UUID,
			face_id TEXT NOT NULL DEFAULT '',
			box_left INT NOT NULL,
			box_top INT NOT NULL,
			box_width INT NOT NULL,
			box_height INT NOT NULL,
			target_left INT NOT NULL,
			target_top INT NOT NULL,
			target_right INT NOT NULL,
			target_bottom INT NOT NULL,
			quality TEXT NOT NULL DEFAULT '',
			blur_level TEXT NOT NULL DEFAULT '',
			yaw DOUBLE PRECISION NOT NULL DEFAULT 0,
			pitch DOUBLE PRECISION NOT NULL DEFAULT 0,
			roll DOUBLE PRECISION NOT NULL DEFAULT 0,
			mask_covered BOOLEAN NOT NULL DEFAULT FALSE,
			person_name TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS collected_faces_image_id_idx ON collected_faces (image_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureImage registers the image in the database. If it exists, its previous
// faces are removed so a re-scan does not collect duplicates.
func (s *Store) EnsureImage(ctx context.Context, imageID, path string, width, height int) error {
	// 1. Clean up old data to ensure idempotency
	if _, err := s.conn.Exec(ctx, "DELETE FROM collected_faces WHERE image_id = $1", imageID); err != nil {
		return err
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO face_images (id, path, width, height, scanned_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET scanned_at = NOW(), path = EXCLUDED.path,
			width = EXCLUDED.width, height = EXCLUDED.height
	`, imageID, path, width, height)
	return err
}

// InsertFace saves an accepted face and returns its collection id.
func (s *Store) InsertFace(ctx context.Context, runID uuid.UUID, imageID string, face types.DetectedFace, target types.CropRegion) (int64, error) {
	var quality, blur string
	var yaw, pitch, roll float64
	var covered bool
	if a := face.Attributes; a != nil {
		quality = string(a.QualityForRecognition)
		if a.Blur != nil {
			blur = string(a.Blur.Level)
		}
		if a.HeadPose != nil {
			yaw, pitch, roll = a.HeadPose.Yaw, a.HeadPose.Pitch, a.HeadPose.Roll
		}
		if a.Mask != nil {
			covered = a.Mask.NoseAndMouthCovered
		}
	}

	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO collected_faces (
			image_id, run_id, face_id,
			box_left, box_top, box_width, box_height,
			target_left, target_top, target_right, target_bottom,
			quality, blur_level, yaw, pitch, roll, mask_covered
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`, imageID, runID.String(), face.FaceID,
		face.Box.Left, face.Box.Top, face.Box.Width, face.Box.Height,
		target.Left, target.Top, target.Right, target.Bottom,
		quality, blur, yaw, pitch, roll, covered,
	).Scan(&id)
	return id, err
}

// ListFaces returns every collected face, newest first.
func (s *Store) ListFaces(ctx context.Context) ([]CollectedFace, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT f.id, f.image_id, i.path, COALESCE(f.run_id::text, ''), f.face_id,
			f.box_left, f.box_top, f.box_width, f.box_height,
			f.target_left, f.target_top, f.target_right, f.target_bottom,
			f.quality, f.blur_level, f.yaw, f.pitch, f.roll, f.mask_covered,
			COALESCE(f.person_name, ''), f.created_at
		FROM collected_faces f
		JOIN face_images i ON i.id = f.image_id
		ORDER BY f.created_at DESC, f.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faces []CollectedFace
	for rows.Next() {
		var f CollectedFace
		var runID string
		if err := rows.Scan(
			&f.ID, &f.ImageID, &f.Path, &runID, &f.FaceID,
			&f.Box.Left, &f.Box.Top, &f.Box.Width, &f.Box.Height,
			&f.Target.Left, &f.Target.Top, &f.Target.Right, &f.Target.Bottom,
			&f.Quality, &f.BlurLevel, &f.Yaw, &f.Pitch, &f.Roll, &f.MaskCovered,
			&f.PersonName, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		if runID != "" {
			if f.RunID, err = uuid.Parse(runID); err != nil {
				return nil, fmt.Errorf("face %d: bad run id: %w", f.ID, err)
			}
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// LabelFace assigns a person name to a collected face.
func (s *Store) LabelFace(ctx context.Context, id int64, name string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE collected_faces SET person_name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("face %d: %w", id, ErrNotFound)
	}
	return nil
}

// RemoveFace deletes a collected face.
func (s *Store) RemoveFace(ctx context.Context, id int64) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM collected_faces WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("face %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecordRun stores a batch run summary.
func (s *Store) RecordRun(ctx context.Context, run BatchRun) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO batch_runs (id, root, started_at, finished_at, total, accepted, invalid, failed, retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID.String(), run.Root, run.StartedAt, run.FinishedAt,
		run.Total, run.Accepted, run.Invalid, run.Failed, run.Retries)
	return err
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	query := `
		SELECT id::text, root, started_at, finished_at, total, accepted, invalid, failed, retries
		FROM batch_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BatchRun
	for rows.Next() {
		var r BatchRun
		var id string
		if err := rows.Scan(&id, &r.Root, &r.StartedAt, &r.FinishedAt,
			&r.Total, &r.Accepted, &r.Invalid, &r.Failed, &r.Retries); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS collected_faces CASCADE;
		DROP TABLE IF EXISTS batch_runs CASCADE;
		DROP TABLE IF EXISTS face_images CASCADE;
	`)
	return err
}
