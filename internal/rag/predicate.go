package rag

import "strings"

// Definitional openers answered well from the model's own knowledge.
// A matching prefix always skips retrieval, even when the query also
// contains a medical keyword.
var excludedPrefixes = []string{
	"what is",
	"who is",
	"define",
	"meaning of",
	"introduction to",
	"explain",
}

// Queries mentioning symptoms or conditions benefit from the veterinary
// knowledge base.
var medicalKeywords = []string{
	"symptom",
	"disease",
	"treatment",
	"fever",
	"vomiting",
	"diarrhea",
	"skin",
	"infection",
	"breathing",
	"poison",
}

// ShouldRetrieve decides whether a query needs knowledge-base retrieval.
// Pure and total: no side effects, defined for every input.
func ShouldRetrieve(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))

	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(q, prefix) {
			return false
		}
	}

	for _, kw := range medicalKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}

	return false
}
