package search

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"titlesearch/internal/extract"

	"go.uber.org/zap"
)

// FileRecord is a record tagged with the page file it came from.
type FileRecord struct {
	SourceFile string `json:"source_file"`
	extract.Record
}

// StreamFromDir parses every file in dir (sorted by name) and writes one JSON
// array of FileRecords to w. Each parsed record is also passed to sink when it
// is non-nil; a sink error aborts the run.
//
// Unreadable or unparseable files are logged and skipped.
func StreamFromDir(w io.Writer, dir string, p *Parser, sink func([]FileRecord) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("write [: %w", err)
	}

	first := true
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		full := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(full)
		if err != nil {
			p.log.Warn("skipping unreadable file", zap.String("file", full), zap.Error(err))
			continue
		}
		recs, err := p.Parse(string(b))
		if err != nil {
			p.log.Warn("skipping unparseable file", zap.String("file", full), zap.Error(err))
			continue
		}

		batch := make([]FileRecord, 0, len(recs))
		for _, r := range recs {
			batch = append(batch, FileRecord{SourceFile: e.Name(), Record: r})
		}
		for _, fr := range batch {
			if !first {
				if _, err := io.WriteString(w, ","); err != nil {
					return fmt.Errorf("write comma: %w", err)
				}
			}
			first = false
			if err := enc.Encode(fr); err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
		}
		if sink != nil && len(batch) > 0 {
			if err := sink(batch); err != nil {
				return fmt.Errorf("sink %s: %w", e.Name(), err)
			}
		}
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return fmt.Errorf("write ]: %w", err)
	}
	return nil
}
