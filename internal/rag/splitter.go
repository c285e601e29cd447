// Package rag implements the RAG Retriever: a per-(tenant, persona)
// knowledge collection backed by SQLite, with recursive text chunking, a
// deterministic fallback embedder, and in-process cosine similarity search.
package rag

import "strings"

// splitterSeparators are tried in order, each splitting the remaining text
// into the largest chunks that still respect chunkSize; "" as a last
// resort splits by character.
var splitterSeparators = []string{"\n\n", "\n", "。", ".", " ", ""}

// SplitText recursively chunks text into pieces of at most chunkSize
// runes, with overlap runes of context repeated between consecutive
// chunks, mirroring a recursive-character text splitter.
func SplitText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}
	pieces := splitRecursive(text, chunkSize, splitterSeparators)
	return mergeWithOverlap(pieces, chunkSize, overlap)
}

func splitRecursive(text string, chunkSize int, separators []string) []string {
	if len([]rune(text)) <= chunkSize || len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		runes := []rune(text)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			parts = append(parts, string(runes[i:end]))
		}
		return parts
	}

	for _, p := range strings.Split(text, sep) {
		if p == "" {
			continue
		}
		if len([]rune(p)) > chunkSize {
			parts = append(parts, splitRecursive(p, chunkSize, rest)...)
		} else {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return []string{text}
	}
	return parts
}

// mergeWithOverlap packs small pieces back together up to chunkSize runes
// per chunk, and repeats the trailing overlap runes of each chunk at the
// start of the next.
func mergeWithOverlap(pieces []string, chunkSize, overlap int) []string {
	var chunks []string
	var current []rune

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, string(current))
		if overlap > 0 && overlap < len(current) {
			current = append([]rune{}, current[len(current)-overlap:]...)
		} else {
			current = nil
		}
	}

	for _, piece := range pieces {
		runes := []rune(piece)
		if len(current)+len(runes) > chunkSize && len(current) > 0 {
			flush()
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}
