// Package kg is the knowledge-graph client: retrieval of GDPR article
// context for a detection type, hybrid search across articles, and a
// process-wide TTL cache so the Judge's repeated queries within one
// video don't re-hit the graph store.
package kg

// Article is one GDPR article node retrieved from the knowledge
// graph.
type Article struct {
	Number             int
	Title              string
	Content            string
	FineTier           string
	Severity           string
	RelatedRecitals    []int
	RelatedConcepts    []string
	RecommendedActions []string
}

// FineInfo is the fine-tier metadata attached to one GDPR article.
type FineInfo struct {
	ArticleNumber int
	Tier          string
	MaxAmount     float64
	Description   string
}

// ExplanationGraph is the Judge-facing explainability payload for one
// detection type: the article it violates plus the recitals/concepts
// that explain why and the fine tier it carries.
type ExplanationGraph struct {
	Detection     string
	Severity      string
	Article       int
	ArticleTitle  string
	Recitals      []int
	Concepts      []string
	FineTier      string
	FineMaxAmount float64
}

// fineFallback mirrors GDPR art. 83(5)(a): breaches of the core
// processing principles (art. 5), the lawfulness basis (art. 6) or
// special category data (art. 9) all sit in the higher fining tier.
var fineFallback = map[int]FineInfo{
	5: {ArticleNumber: 5, Tier: "higher", MaxAmount: 20000000, Description: "up to EUR 20,000,000 or 4% of global annual turnover, whichever is higher"},
	6: {ArticleNumber: 6, Tier: "higher", MaxAmount: 20000000, Description: "up to EUR 20,000,000 or 4% of global annual turnover, whichever is higher"},
	9: {ArticleNumber: 9, Tier: "higher", MaxAmount: 20000000, Description: "up to EUR 20,000,000 or 4% of global annual turnover, whichever is higher"},
}

// staticFallback is the fixed minimal context (articles 5, 6, 9) used
// when the graph store is unreachable, per spec.md §4.6/§6.
var staticFallback = []Article{
	{
		Number:   5,
		Title:    "Principles relating to processing of personal data",
		Content:  "Personal data shall be processed lawfully, fairly and in a transparent manner, collected for specified purposes, and kept no longer than necessary.",
		Severity: "high",
	},
	{
		Number:   6,
		Title:    "Lawfulness of processing",
		Content:  "Processing shall be lawful only if and to the extent that at least one legal basis applies.",
		Severity: "high",
	},
	{
		Number:   9,
		Title:    "Processing of special categories of personal data",
		Content:  "Processing of biometric data for the purpose of uniquely identifying a natural person is prohibited, subject to enumerated exceptions.",
		Severity: "critical",
	},
}
