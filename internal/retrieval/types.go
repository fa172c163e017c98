// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package retrieval issues structured RAG search against the vector
// store through a file-search-capable model and normalizes the
// results into scored snippets with source attribution, per
// spec.md §4.5.
package retrieval

import "fmt"

// Snippet is one retrieval result, normalized regardless of whether it
// came from the structured JSON path or the citation-mining fallback.
type Snippet struct {
	Content  string
	Score    float64
	Metadata Metadata
}

// Metadata attributes a Snippet to its originating document.
type Metadata struct {
	Source   string
	FileID   string
	Filename string
}

// Options configures one Search call, derived by the Tool Executor
// from the rag_search tool-call arguments (spec.md §4.4).
type Options struct {
	TopK      int
	Threshold float64
	MaxChars  int
}

const maxCharsTruncationMarker = "…"

// truncate shortens s to at most maxChars runes, appending a
// truncation marker when it does, per spec.md §4.5's Snippet contract.
func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	if maxChars <= len([]rune(maxCharsTruncationMarker)) {
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-len([]rune(maxCharsTruncationMarker))]) + maxCharsTruncationMarker
}

// FormatForLLM concatenates snippets into the "[출처: <id>]\n<content>"
// blocks the Tool Executor feeds back to the model, per spec.md §4.5.
func FormatForLLM(snippets []Snippet) string {
	blocks := make([]string, 0, len(snippets))
	for _, s := range snippets {
		id := s.Metadata.FileID
		if id == "" {
			id = s.Metadata.Source
		}
		blocks = append(blocks, fmt.Sprintf("[출처: %s]\n%s", id, s.Content))
	}
	out := ""
	for i, b := range blocks {
		if i > 0 {
			out += "\n\n"
		}
		out += b
	}
	return out
}

// SourceIDs extracts the file/source id of every snippet, in order.
func SourceIDs(snippets []Snippet) []string {
	ids := make([]string, len(snippets))
	for i, s := range snippets {
		if s.Metadata.FileID != "" {
			ids[i] = s.Metadata.FileID
		} else {
			ids[i] = s.Metadata.Source
		}
	}
	return ids
}

// Contents extracts the content string of every snippet, in order.
func Contents(snippets []Snippet) []string {
	out := make([]string, len(snippets))
	for i, s := range snippets {
		out[i] = s.Content
	}
	return out
}
