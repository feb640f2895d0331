package main

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"conclave/internal/config"
	"conclave/internal/engine"
	"conclave/internal/store"
	"github.com/klauspost/compress/zstd"
)

const (
	runEntryPrefix = "runs/"
	exportLimit    = 10000
)

// runExport writes every persisted run to a zstd-compressed tar archive,
// one JSON document per run. The archive is portable between deployments.
func runExport(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: conclave export -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(exportLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		slog.Warn("no runs in store, creating empty archive")
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for i := range runs {
		if err := writeRunEntry(tw, &runs[i]); err != nil {
			return fmt.Errorf("export run %s: %w", runs[i].ID, err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Export complete: %d runs, %s\n", len(runs), formatSize(size))
	return nil
}

func writeRunEntry(tw *tar.Writer, r *engine.Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	hdr := &tar.Header{
		Name:    path.Join(runEntryPrefix, r.ID+".json"),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: r.StartedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

// runImport loads run records from an export archive back into the store.
// Existing records are left alone unless -overwrite is given.
func runImport(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: conclave import -f <archive.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	// Pre-scan: collect run ids from the archive before touching the store
	ids, err := scanArchiveRuns(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("Archive contains no runs.")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	skip := make(map[string]bool)
	if !overwrite {
		for _, id := range ids {
			existing, err := db.GetRun(id)
			if err != nil {
				return fmt.Errorf("check run %s: %w", id, err)
			}
			if existing != nil {
				skip[id] = true
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	imported := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		id := runEntryID(hdr.Name)
		if id == "" || skip[id] {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read run %s: %w", id, err)
		}
		var run engine.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("unmarshal run %s: %w", id, err)
		}
		if run.ID != id {
			return fmt.Errorf("run %s: entry name does not match record id %q", id, run.ID)
		}

		if err := db.SaveRun(&run); err != nil {
			return fmt.Errorf("save run %s: %w", id, err)
		}
		imported++
	}

	fmt.Printf("Import complete: %d runs (%d skipped)\n", imported, len(ids)-imported)
	return nil
}

// scanArchiveRuns reads tar headers to collect run ids without extracting
// file data.
func scanArchiveRuns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var ids []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		id := runEntryID(hdr.Name)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// runEntryID extracts the run id from an archive entry name like
// "runs/<id>.json". Returns empty for anything else.
func runEntryID(name string) string {
	name = strings.TrimLeft(name, "./")
	if !strings.HasPrefix(name, runEntryPrefix) {
		return ""
	}
	rest := name[len(runEntryPrefix):]
	if strings.ContainsRune(rest, '/') {
		return ""
	}
	id := strings.TrimSuffix(rest, ".json")
	if id == rest || id == "" {
		return ""
	}
	return id
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
