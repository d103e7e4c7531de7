package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/portrait/internal/types"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("portrait_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	runID := uuid.New()
	if err := s.EnsureImage(ctx, "img_1", "/photos/alice.jpg", 800, 600); err != nil {
		t.Fatalf("EnsureImage failed: %v", err)
	}

	face := types.DetectedFace{
		FaceID: "f-1",
		Box:    types.FaceBox{Left: 100, Top: 120, Width: 80, Height: 90},
		Attributes: &types.FaceAttributes{
			HeadPose:              &types.HeadPose{Yaw: 3.5, Pitch: -1, Roll: 0.5},
			Blur:                  &types.Blur{Level: types.BlurLow, Value: 0.1},
			Mask:                  &types.Mask{Type: "noMask"},
			QualityForRecognition: types.QualityHigh,
		},
	}
	target := types.CropRegion{Left: 92, Top: 111, Right: 188, Bottom: 219}

	faceID, err := s.InsertFace(ctx, runID, "img_1", face, target)
	if err != nil {
		t.Fatalf("InsertFace failed: %v", err)
	}
	if faceID <= 0 {
		t.Errorf("Expected positive ID, got %d", faceID)
	}

	if err := s.LabelFace(ctx, faceID, "Alice"); err != nil {
		t.Fatalf("LabelFace failed: %v", err)
	}
	if err := s.LabelFace(ctx, faceID+100, "Nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown face, got %v", err)
	}

	faces, err := s.ListFaces(ctx)
	if err != nil {
		t.Fatalf("ListFaces failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	got := faces[0]
	if got.PersonName != "Alice" || got.Path != "/photos/alice.jpg" || got.RunID != runID {
		t.Errorf("Unexpected face row: %+v", got)
	}
	if got.Box != face.Box || got.Target != target {
		t.Errorf("Box/target mismatch: %+v %+v", got.Box, got.Target)
	}
	if got.Quality != "high" || got.BlurLevel != "low" || got.Yaw != 3.5 || got.MaskCovered {
		t.Errorf("Attributes mismatch: %+v", got)
	}

	// Re-scanning the same image clears its previous faces
	if err := s.EnsureImage(ctx, "img_1", "/photos/alice.jpg", 800, 600); err != nil {
		t.Fatalf("EnsureImage (rescan) failed: %v", err)
	}
	faces, _ = s.ListFaces(ctx)
	if len(faces) != 0 {
		t.Errorf("Expected rescan to clear faces, got %d", len(faces))
	}

	faceID, _ = s.InsertFace(ctx, runID, "img_1", face, target)
	if err := s.RemoveFace(ctx, faceID); err != nil {
		t.Fatalf("RemoveFace failed: %v", err)
	}
	if err := s.RemoveFace(ctx, faceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second remove, got %v", err)
	}

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)
	run := BatchRun{
		ID: runID, Root: "/photos", StartedAt: started, FinishedAt: started.Add(30 * time.Second),
		Total: 10, Accepted: 7, Invalid: 2, Failed: 1, Retries: 3,
	}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	runs, err := s.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID || runs[0].Accepted != 7 || !runs[0].StartedAt.Equal(started) {
		t.Errorf("Unexpected runs: %+v", runs)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListFaces(ctx); err == nil {
		t.Error("Expected ListFaces to fail after Reset dropped the tables")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
