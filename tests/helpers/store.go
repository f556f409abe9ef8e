package helpers

import (
	"testing"

	"github.com/thaveesi/blackRabbit/internal/devbackend"
)

func NewTestSQLiteStore(t *testing.T) *devbackend.SQLiteStore {
	t.Helper()

	s, err := devbackend.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
