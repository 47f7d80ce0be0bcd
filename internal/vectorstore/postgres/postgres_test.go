package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"healthai/internal/vectorstore"
	"healthai/internal/vectorstore/storetest"
)

// Set HEALTHAI_TEST_POSTGRES_DSN to a database with the vector extension
// available to run these tests.
func TestConformance(t *testing.T) {
	dsn := os.Getenv("HEALTHAI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HEALTHAI_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T, collection string) vectorstore.Storage {
		// Unique names keep runs independent on a shared database.
		name := fmt.Sprintf("%s_%s", collection, strings.ReplaceAll(uuid.NewString(), "-", ""))
		s, err := NewStorage(context.Background(), dsn, name)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}
