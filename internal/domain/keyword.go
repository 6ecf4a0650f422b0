package domain

import "time"

// KeywordCategory classifies a red-flag keyword.
type KeywordCategory string

const (
	KeywordCategoryProfanity   KeywordCategory = "profanity"
	KeywordCategoryThreats     KeywordCategory = "threats"
	KeywordCategoryNonsensical KeywordCategory = "nonsensical"
	KeywordCategoryImpossible  KeywordCategory = "impossible"
)

// Valid reports whether the category is one of the known values.
func (c KeywordCategory) Valid() bool {
	switch c {
	case KeywordCategoryProfanity, KeywordCategoryThreats,
		KeywordCategoryNonsensical, KeywordCategoryImpossible:
		return true
	}
	return false
}

// RedFlagKeyword is an admin-maintained keyword the detector scans feedback
// text against. Severity is the sole scoring weight; category is for
// operator organization only.
type RedFlagKeyword struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"businessId"`
	Keyword    string          `json:"keyword"`
	Category   KeywordCategory `json:"category"`
	Severity   int             `json:"severity"` // 1-10
	Language   string          `json:"language"` // ISO 639-1, e.g. "sv"
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// KeywordMatch is one detector hit in a feedback text.
type KeywordMatch struct {
	KeywordID string          `json:"keywordId"`
	Keyword   string          `json:"keyword"`
	Category  KeywordCategory `json:"category"`
	Severity  int             `json:"severity"`
}
