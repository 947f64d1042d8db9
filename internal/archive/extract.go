// Package archive extracts reviewable source text from uploaded ZIP
// archives. Extraction is defensive: only known source/text extensions are
// read, per-file and total size ceilings guard against decompression bombs,
// and binary or metadata entries are skipped silently.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

// Extraction limits.
const (
	// MaxArchiveBytes caps the accepted archive upload at 50 MB.
	MaxArchiveBytes = 50 * 1024 * 1024

	// maxEntryBytes caps a single extracted file.
	maxEntryBytes = 2 * 1024 * 1024

	// maxEntries caps the number of files read from one archive.
	maxEntries = 500
)

var (
	// ErrNoSource is returned when the archive holds no recognizable
	// source files.
	ErrNoSource = errors.New("archive contains no source files")

	// ErrTooLarge is returned when the combined extracted text exceeds
	// the caller-supplied budget.
	ErrTooLarge = errors.New("extracted content exceeds size limit")
)

// sourceExts is the extension whitelist for extraction. Anything else is
// treated as binary or build output and skipped.
var sourceExts = map[string]struct{}{
	".go": {}, ".java": {}, ".py": {}, ".js": {}, ".jsx": {}, ".ts": {},
	".tsx": {}, ".rb": {}, ".php": {}, ".cs": {}, ".cpp": {}, ".cc": {},
	".c": {}, ".h": {}, ".hpp": {}, ".rs": {}, ".kt": {}, ".swift": {},
	".scala": {}, ".sql": {}, ".sh": {}, ".yaml": {}, ".yml": {},
	".json": {}, ".xml": {}, ".html": {}, ".css": {}, ".md": {}, ".txt": {},
}

// ExtractText reads a ZIP archive and concatenates the text of its source
// files, each preceded by a "// File:" marker so findings can be traced back
// to their origin. maxTotal bounds the combined output; non-positive means
// unbounded.
func ExtractText(data []byte, maxTotal int) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	var out strings.Builder
	files := 0
	for _, f := range zr.File {
		if files >= maxEntries {
			log.Warn().Int("limit", maxEntries).Msg("archive entry limit reached, remaining files skipped")
			break
		}
		if !extractable(f) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			log.Warn().Err(err).Str("entry", f.Name).Msg("skipping unreadable archive entry")
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
		rc.Close()
		if err != nil {
			log.Warn().Err(err).Str("entry", f.Name).Msg("skipping unreadable archive entry")
			continue
		}
		if len(content) > maxEntryBytes {
			log.Warn().Str("entry", f.Name).Msg("skipping oversized archive entry")
			continue
		}
		if !looksLikeText(content) {
			continue
		}

		fmt.Fprintf(&out, "// File: %s\n%s\n\n", f.Name, content)
		files++

		if maxTotal > 0 && out.Len() > maxTotal {
			return "", fmt.Errorf("%w: over %d bytes", ErrTooLarge, maxTotal)
		}
	}

	if files == 0 {
		return "", ErrNoSource
	}
	return out.String(), nil
}

// extractable reports whether an archive entry should be read at all.
func extractable(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return false
	}
	name := f.Name
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/.") || strings.HasPrefix(path.Base(name), ".") {
		return false
	}
	// Reject traversal shapes outright; entries are never written to disk
	// but a hostile name should not reach the output either.
	if strings.Contains(name, "..") {
		return false
	}
	_, ok := sourceExts[strings.ToLower(path.Ext(name))]
	return ok
}

// looksLikeText rejects content with NUL bytes, the cheap binary sniff.
func looksLikeText(b []byte) bool {
	return !bytes.ContainsRune(b, 0x00)
}
