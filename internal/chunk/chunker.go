// Package chunk splits oversized code payloads into sub-budget pieces at
// logical boundaries so each piece fits inside the AI backend's token
// budget. Chunking is pure and deterministic: it touches no store, and the
// concatenation of the produced chunks always covers every input line
// exactly once.
package chunk

import (
	"regexp"
	"strings"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// CharsPerToken is the rough character-to-token ratio used for code.
const CharsPerToken = 4.0

// safetyMargin shrinks the computed token-derived chunk size so estimation
// error cannot push a chunk over the real budget.
const safetyMargin = 0.8

// breakLookback bounds how far back from the overflow cursor the chunker
// searches for a logical break point.
const breakLookback = 10

var (
	// methodRE matches method-like declarations that open a block.
	methodRE = regexp.MustCompile(`^\s*(public|private|protected|static).*\{\s*$`)
	// typeRE matches class/interface/enum declarations.
	typeRE = regexp.MustCompile(`^\s*(public|private|protected)?\s*(class|interface|enum)\s+\w+`)
)

// Chunker computes chunk boundaries from a configured character ceiling and
// the backend's token budget. The zero value is not usable; construct with
// New.
type Chunker struct {
	maxChunkChars int
	tokenBudget   int
}

// New constructs a Chunker. maxChunkChars caps a single chunk's size in
// characters; tokenBudget is the backend's per-request token limit.
func New(maxChunkChars, tokenBudget int) *Chunker {
	return &Chunker{maxChunkChars: maxChunkChars, tokenBudget: tokenBudget}
}

// SafeChunkSize returns the effective per-chunk character budget:
// min(maxChunkChars, tokenBudget × CharsPerToken × 0.8).
func (c *Chunker) SafeChunkSize() int {
	tokenDerived := int(float64(c.tokenBudget) * CharsPerToken * safetyMargin)
	if c.maxChunkChars < tokenDerived {
		return c.maxChunkChars
	}
	return tokenDerived
}

// IsWithinTokenLimit reports whether content fits the token budget using the
// chars-per-token approximation. Callers use it to decide whether chunking
// is required before submission.
func (c *Chunker) IsWithinTokenLimit(content string) bool {
	return int(float64(len(content))/CharsPerToken) <= c.tokenBudget
}

// Chunk splits code into sub-budget pieces. Inputs that fit the safe size
// come back as a single chunk spanning all lines. Larger inputs are cut at
// logical break points (blank line, lone closing brace, or a declaration)
// found within breakLookback lines of the overflow cursor, falling back to
// a hard cut at the size boundary.
func (c *Chunker) Chunk(code, sourceFile string) []domain.CodeChunk {
	if code == "" {
		return nil
	}

	safe := c.SafeChunkSize()
	lines := strings.Split(code, "\n")

	if len(code) <= safe {
		return []domain.CodeChunk{newChunk(code, 1, len(lines), sourceFile)}
	}

	var chunks []domain.CodeChunk
	start := 0 // index of the first line in the current chunk
	size := 0  // accumulated characters in the current chunk
	i := 0
	for i < len(lines) {
		lineLen := len(lines[i]) + 1 // +1 for the newline
		if size > 0 && size+lineLen > safe {
			cut := breakPoint(lines, start, i)
			chunks = append(chunks, newChunk(joinLines(lines[start:cut]), start+1, cut, sourceFile))
			start = cut
			i = cut
			size = 0
			continue
		}
		size += lineLen
		i++
	}
	if start < len(lines) {
		chunks = append(chunks, newChunk(joinLines(lines[start:]), start+1, len(lines), sourceFile))
	}
	return chunks
}

// breakPoint returns the exclusive end index for the chunk that overflowed
// at line index i. It scans backward up to breakLookback lines for a blank
// line, a lone closing brace, or a declaration; absent one, it cuts exactly
// at the boundary.
func breakPoint(lines []string, start, i int) int {
	floor := i - breakLookback
	if floor < start+1 {
		floor = start + 1
	}
	for j := i; j >= floor; j-- {
		prev := strings.TrimSpace(lines[j-1])
		if prev == "" || prev == "}" {
			return j
		}
		// A declaration starts the next chunk, so the cut lands before it.
		if j-1 > start && (methodRE.MatchString(lines[j-1]) || typeRE.MatchString(lines[j-1])) {
			return j - 1
		}
	}
	return i
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}

func newChunk(content string, startLine, endLine int, sourceFile string) domain.CodeChunk {
	return domain.CodeChunk{
		Content:         content,
		StartLine:       startLine,
		EndLine:         endLine,
		SourceFile:      sourceFile,
		EstimatedTokens: int(float64(len(content)) / CharsPerToken),
	}
}
