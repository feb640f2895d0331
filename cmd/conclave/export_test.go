package main

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conclave/internal/engine"
	"github.com/klauspost/compress/zstd"
)

func TestRunEntryID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain entry", "runs/abc-123.json", "abc-123"},
		{"leading dot-slash", "./runs/abc-123.json", "abc-123"},
		{"leading slash", "/runs/abc-123.json", "abc-123"},
		{"nested path rejected", "runs/sub/abc.json", ""},
		{"wrong prefix", "other/abc.json", ""},
		{"no json suffix", "runs/abc-123", ""},
		{"bare prefix", "runs/", ""},
		{"empty string", "", ""},
		{"just json suffix", "runs/.json", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runEntryID(tt.input); got != tt.want {
				t.Errorf("runEntryID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// createTestArchive builds a zstd-compressed tar with the given entries.
func createTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}

	tw := tar.NewWriter(zw)
	for name, content := range entries {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()

	return path
}

func TestScanArchiveRuns(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{
		"runs/run-1.json":  `{"id":"run-1"}`,
		"runs/run-2.json":  `{"id":"run-2"}`,
		"notes/readme.txt": "not a run",
	})

	ids, err := scanArchiveRuns(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 runs, got %d: %v", len(ids), ids)
	}

	found := make(map[string]bool)
	for _, id := range ids {
		found[id] = true
	}
	for _, want := range []string{"run-1", "run-2"} {
		if !found[want] {
			t.Errorf("expected run %q not found in %v", want, ids)
		}
	}
}

func TestScanArchiveRunsEmpty(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{})

	ids, err := scanArchiveRuns(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected 0 runs, got %d: %v", len(ids), ids)
	}
}

func TestScanArchiveRunsInvalidZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	os.WriteFile(path, []byte("not zstd data"), 0o644)

	if _, err := scanArchiveRuns(path); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
}

// TestArchiveRoundTrip verifies that run entries written by writeRunEntry
// scan and decode back into the same records.
func TestArchiveRoundTrip(t *testing.T) {
	runs := []engine.Run{
		{
			ID:         "run-a",
			ProtocolID: "parallel-synthesis",
			Question:   "what next?",
			Status:     engine.StatusCompleted,
			FinalText:  "ship it",
			StartedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:         "run-b",
			ProtocolID: "delphi",
			Question:   "how many?",
			Status:     engine.StatusNoConvergence,
			Rounds:     3,
			StartedAt:  time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)
	for i := range runs {
		if err := writeRunEntry(tw, &runs[i]); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()

	path := filepath.Join(t.TempDir(), "roundtrip.tar.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := scanArchiveRuns(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 runs, got %d: %v", len(ids), ids)
	}

	zr, err := zstd.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	for i := range runs {
		hdr, err := tr.Next()
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if got := runEntryID(hdr.Name); got != runs[i].ID {
			t.Errorf("entry %d: id = %q, want %q", i, got, runs[i].ID)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("entry %d: read content: %v", i, err)
		}
		var decoded engine.Run
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("entry %d: unmarshal: %v", i, err)
		}
		if decoded.ID != runs[i].ID || decoded.ProtocolID != runs[i].ProtocolID {
			t.Errorf("entry %d: decoded %s/%s, want %s/%s",
				i, decoded.ID, decoded.ProtocolID, runs[i].ID, runs[i].ProtocolID)
		}
		if decoded.Status != runs[i].Status {
			t.Errorf("entry %d: status = %q, want %q", i, decoded.Status, runs[i].Status)
		}
	}

	if _, err := tr.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}
