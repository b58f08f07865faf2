// Package chunker splits normalized document text into retrieval units.
// Offsets are counted in runes so spans survive multi-byte input; for ASCII
// text rune offsets equal byte offsets.
package chunker

import (
	"fmt"
	"unicode"

	"compliance-doc-engine/internal/model"
)

type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
)

// ParseStrategy validates a strategy name from user input.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFixed, StrategySemantic, StrategyHybrid:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", model.ErrInvalidChunkConfig, s)
}

type Config struct {
	Size     int
	Overlap  int
	Strategy Strategy
}

// Piece is one chunk: a span into the source text plus the exact substring at
// that span.
type Piece struct {
	Start int
	End   int
	Text  string
}

// Chunk splits text under cfg. Output is deterministic for identical input and
// config. Spans are non-empty, strictly increasing in start offset, and for
// fixed/hybrid cover every rune of the text.
func Chunk(text string, cfg Config) ([]Piece, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", model.ErrInvalidChunkConfig, cfg.Size)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("%w: overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			model.ErrInvalidChunkConfig, cfg.Overlap, cfg.Size)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	switch cfg.Strategy {
	case StrategyFixed:
		return fixedPieces(runes, cfg.Size, cfg.Overlap, 0), nil
	case StrategySemantic:
		return semanticPieces(runes, cfg.Size, cfg.Overlap), nil
	case StrategyHybrid:
		return mergeAdjacent(semanticPieces(runes, cfg.Size, cfg.Overlap), runes, cfg.Size), nil
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", model.ErrInvalidChunkConfig, cfg.Strategy)
}

// fixedPieces cuts consecutive windows of size runes, advancing by size-overlap.
// base shifts the recorded offsets when chunking a sub-range.
func fixedPieces(runes []rune, size, overlap, base int) []Piece {
	var pieces []Piece
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, Piece{
			Start: base + start,
			End:   base + end,
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
		start += size - overlap
	}
	return pieces
}

// semanticPieces splits on paragraph/sentence boundaries, then greedily packs
// boundary-aligned units into windows not exceeding size. A single unit longer
// than size falls back to fixed splitting over that unit's span.
func semanticPieces(runes []rune, size, overlap int) []Piece {
	units := splitUnits(runes)
	var pieces []Piece
	i := 0
	for i < len(units) {
		u := units[i]
		if u[1]-u[0] > size {
			pieces = append(pieces, fixedPieces(runes[u[0]:u[1]], size, overlap, u[0])...)
			i++
			continue
		}
		start := u[0]
		end := u[1]
		j := i + 1
		for j < len(units) && units[j][1]-start <= size {
			end = units[j][1]
			j++
		}
		pieces = append(pieces, Piece{Start: start, End: end, Text: string(runes[start:end])})
		i = j
	}
	return pieces
}

// splitUnits returns contiguous [start,end) unit spans covering the whole text.
// A unit ends after sentence-final punctuation followed by whitespace, or at a
// paragraph break (blank line). Separators attach to the preceding unit so that
// concatenating unit texts reproduces the input exactly.
func splitUnits(runes []rune) [][2]int {
	var units [][2]int
	n := len(runes)
	start := 0
	i := 0
	for i < n {
		switch r := runes[i]; {
		case r == '.' || r == '!' || r == '?':
			j := i + 1
			for j < n && unicode.IsSpace(runes[j]) {
				j++
			}
			if j > i+1 || j == n {
				units = append(units, [2]int{start, j})
				start = j
				i = j
				continue
			}
			i++
		case r == '\n':
			j := i
			newlines := 0
			for j < n && (runes[j] == '\n' || runes[j] == '\r' || runes[j] == ' ' || runes[j] == '\t') {
				if runes[j] == '\n' {
					newlines++
				}
				j++
			}
			if newlines >= 2 {
				units = append(units, [2]int{start, j})
				start = j
				i = j
				continue
			}
			i = j
		default:
			i++
		}
	}
	if start < n {
		units = append(units, [2]int{start, n})
	}
	return units
}

// mergeAdjacent merges neighboring pieces with contiguous spans while the
// combined window stays within size. Fixed-fallback pieces overlap their
// neighbors and are left as produced.
func mergeAdjacent(pieces []Piece, runes []rune, size int) []Piece {
	if len(pieces) < 2 {
		return pieces
	}
	merged := make([]Piece, 0, len(pieces))
	cur := pieces[0]
	for _, next := range pieces[1:] {
		if next.Start == cur.End && next.End-cur.Start <= size {
			cur.End = next.End
			cur.Text = string(runes[cur.Start:cur.End])
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	merged = append(merged, cur)
	return merged
}
