package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/dwnsync/internal/dwn"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestWrite creates an unsigned Records.Write carrying data.
func createTestWrite(recordID, timestamp string, data []byte) *dwn.Message {
	return &dwn.Message{
		Descriptor: dwn.Descriptor{
			Interface:        dwn.InterfaceRecords,
			Method:           dwn.MethodWrite,
			MessageTimestamp: timestamp,
			RecordID:         recordID,
			Schema:           "https://schema.example/note",
			DataFormat:       "text/plain",
			DataCID:          dwn.DataCID(data),
			DataSize:         int64(len(data)),
		},
	}
}

// createTestDelete creates an unsigned Records.Delete.
func createTestDelete(recordID, timestamp string) *dwn.Message {
	return &dwn.Message{
		Descriptor: dwn.Descriptor{
			Interface:        dwn.InterfaceRecords,
			Method:           dwn.MethodDelete,
			MessageTimestamp: timestamp,
			RecordID:         recordID,
		},
	}
}
