// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rapidaai/sonju/pkg/commons"
)

// Client searches the vector store through a file-search-capable
// model and normalizes results into Snippets, per spec.md §4.5.
type Client interface {
	Search(ctx context.Context, query string, opts Options) ([]Snippet, error)
}

type client struct {
	oa            openai.Client
	logger        commons.Logger
	model         string
	vectorStoreID string
}

// New builds a retrieval Client bound to one vector store id and one
// search-capable model, per spec.md §6 ("Vector store: identified by a
// fixed id constant").
func New(apiKey, model, vectorStoreID string, logger commons.Logger) Client {
	return &client{
		oa:            openai.NewClient(option.WithAPIKey(apiKey)),
		logger:        logger,
		model:         model,
		vectorStoreID: vectorStoreID,
	}
}

// structuredResult mirrors the strict JSON schema spec.md §4.5 requires:
// {results: [{file_id, filename?, score, text}]}.
type structuredResult struct {
	Results []struct {
		FileID   string  `json:"file_id"`
		Filename string  `json:"filename,omitempty"`
		Score    float64 `json:"score"`
		Text     string  `json:"text"`
	} `json:"results"`
}

// Search submits query to the file-search-capable model, constrained
// to opts.TopK results, then post-filters by opts.Threshold and sorts
// by score descending, per spec.md §4.5.
func (c *client) Search(ctx context.Context, query string, opts Options) ([]Snippet, error) {
	resp, err := c.oa.Responses.New(ctx, responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(searchInstruction(query, opts.TopK)),
		},
		Tools: []responses.ToolUnionParam{
			{
				OfFileSearch: &responses.FileSearchToolParam{
					VectorStoreIDs: []string{c.vectorStoreID},
				},
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   "rag_results",
					Schema: resultsJSONSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}

	snippets, err := c.parseStructured(resp, opts.MaxChars)
	if err != nil || len(snippets) == 0 {
		snippets = mineCitations(resp, opts.TopK, opts.MaxChars)
	}

	snippets = filterByThreshold(snippets, opts.Threshold)
	sortByScoreDesc(snippets)
	if len(snippets) > opts.TopK {
		snippets = snippets[:opts.TopK]
	}
	return snippets, nil
}

func (c *client) parseStructured(resp *responses.Response, maxChars int) ([]Snippet, error) {
	text := resp.OutputText()
	if text == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	var parsed structuredResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		c.logger.Warnw("retrieval: structured output did not parse, falling back to citation mining", "err", err)
		return nil, err
	}

	snippets := make([]Snippet, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		snippets = append(snippets, Snippet{
			Content: truncate(r.Text, maxChars),
			Score:   r.Score,
			Metadata: Metadata{
				Source:   "OpenAI Vector Store",
				FileID:   r.FileID,
				Filename: r.Filename,
			},
		})
	}
	return snippets, nil
}

// mineCitations is the fallback path of spec.md §4.5: when structured
// parsing is unavailable, extract file_citation annotations from the
// free-text output, dedupe by (file_id, filename), score 0. The cited
// quote text is not part of the dedupe key.
func mineCitations(resp *responses.Response, topK, maxChars int) []Snippet {
	type key struct{ fileID, quote string }
	seen := map[key]bool{}
	var out []Snippet

	for _, item := range resp.Output {
		msg := item.AsMessage()
		for _, content := range msg.Content {
			text := content.AsOutputText()
			for _, ann := range text.Annotations {
				fc := ann.AsFileCitation()
				if fc.FileID == "" {
					continue
				}
				k := key{fc.FileID, fc.Filename}
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, Snippet{
					Content: truncate(text.Text, maxChars),
					Score:   0,
					Metadata: Metadata{
						Source:   "OpenAI Vector Store",
						FileID:   fc.FileID,
						Filename: fc.Filename,
					},
				})
				if len(out) >= topK {
					return out
				}
			}
		}
	}
	return out
}

func filterByThreshold(snippets []Snippet, threshold float64) []Snippet {
	out := snippets[:0:0]
	for _, s := range snippets {
		if s.Score >= threshold {
			out = append(out, s)
		}
	}
	return out
}

func sortByScoreDesc(snippets []Snippet) {
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Score > snippets[j].Score
	})
}

func searchInstruction(query string, topK int) string {
	return fmt.Sprintf(
		"Search the attached vector store for content relevant to the following query and return at most %d results.\nQuery: %s",
		topK, query,
	)
}

func resultsJSONSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"results": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"file_id":  map[string]interface{}{"type": "string"},
						"filename": map[string]interface{}{"type": "string"},
						"score":    map[string]interface{}{"type": "number"},
						"text":     map[string]interface{}{"type": "string"},
					},
					"required": []string{"file_id", "score", "text"},
				},
			},
		},
		"required": []string{"results"},
	}
}
