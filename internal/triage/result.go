package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SimilarTicket is a historical ticket the backend matched to the upload.
type SimilarTicket struct {
	ID         int
	Similarity float64
	Snippet    string
}

// Article is a recommended knowledge-base article.
type Article struct {
	ArticleID  string
	Title      string
	Summary    string
	Link       string
	Similarity float64
}

// AnalysisResult is the canonical form of a backend analysis response.
// Zero values mean the backend did not provide the field.
type AnalysisResult struct {
	Category            string
	Tags                []string
	SuggestedPriority   string
	Confidence          float64
	Solution            string
	SimilarTickets      []SimilarTicket
	RecommendedArticles []Article
	UploadedTicket      string
	AnalyzedAt          string
	ModelError          string
}

// DecodeAnalysis decodes an /analyze response body. The backend may put the
// classifier fields at the top level, under "llm_result", or both; the top
// level value wins unless it is empty.
func DecodeAnalysis(data []byte) (*AnalysisResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}
	if flat == nil {
		return nil, fmt.Errorf("decoding analysis: empty response")
	}

	nested, _ := flat["llm_result"].(map[string]any)

	r := &AnalysisResult{
		Category:          firstString(flat, nested, "category"),
		SuggestedPriority: firstString(flat, nested, "suggested_priority"),
		Solution:          firstString(flat, nested, "solution"),
		AnalyzedAt:        getString(flat, "analyzed_at", ""),
		ModelError:        getString(nested, "error", ""),
	}

	r.UploadedTicket = getString(flat, "uploaded_ticket", "")
	if r.UploadedTicket == "" {
		r.UploadedTicket = getString(nested, "text", "")
	}

	r.Tags = getStrings(flat, "tags")
	if len(r.Tags) == 0 {
		r.Tags = getStrings(nested, "tags")
	}

	r.Confidence = getFloat(flat, "confidence", 0)
	if r.Confidence == 0 {
		r.Confidence = getFloat(nested, "confidence", 0)
	}

	for _, item := range getObjects(flat, "similar_tickets") {
		r.SimilarTickets = append(r.SimilarTickets, SimilarTicket{
			ID:         getInt(item, "id", 0),
			Similarity: getFloat(item, "similarity", 0),
			Snippet:    getString(item, "snippet", ""),
		})
	}

	for _, item := range getObjects(flat, "recommended_articles") {
		r.RecommendedArticles = append(r.RecommendedArticles, Article{
			ArticleID:  getString(item, "article_id", ""),
			Title:      getString(item, "title", ""),
			Summary:    getString(item, "summary", ""),
			Link:       getString(item, "link", ""),
			Similarity: getFloat(item, "similarity", 0),
		})
	}

	return r, nil
}

func firstString(flat, nested map[string]any, key string) string {
	if s := getString(flat, key, ""); s != "" {
		return s
	}
	return getString(nested, key, "")
}
