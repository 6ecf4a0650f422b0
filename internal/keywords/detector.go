// Package keywords scans feedback text against the admin-maintained table of
// red-flag keywords.
package keywords

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vocilia/verify/internal/domain"
)

// Source provides the active keyword set. Satisfied by domain.Repository.
type Source interface {
	ListKeywords(ctx context.Context, businessID string, language string, activeOnly bool) ([]*domain.RedFlagKeyword, error)
}

// Config holds detector tuning.
type Config struct {
	// SeverityCap is the severity sum at which the score saturates at 1.0.
	SeverityCap int

	// DefaultLanguage is used when the requested language has no keywords.
	DefaultLanguage string

	// CacheTTL bounds staleness of the cached keyword set.
	CacheTTL time.Duration
}

// Detector matches red-flag keywords in feedback text and produces a
// normalized severity score.
type Detector struct {
	source domain.Cache // optional read-through cache
	repo   Source
	cfg    Config
}

// NewDetector creates a detector. Cache may be nil; keyword sets are then
// loaded from the source on every scan.
func NewDetector(repo Source, cache domain.Cache, cfg Config) *Detector {
	if cfg.SeverityCap <= 0 {
		cfg.SeverityCap = 10
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "sv"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Detector{
		source: cache,
		repo:   repo,
		cfg:    cfg,
	}
}

// ScanResult is the outcome of scanning one feedback text.
type ScanResult struct {
	Matches []domain.KeywordMatch `json:"matches"`

	// Score is the severity sum of distinct matched keywords, capped at the
	// configured cap and normalized to [0,1]. 1.0 = maximally red-flagged.
	Score float64 `json:"score"`
}

// Scan matches active keywords for the given language against the text.
// Matching is case-insensitive substring; repeated occurrences of the same
// keyword count once. An unknown language falls back to the default
// language's keyword set rather than erroring.
func (d *Detector) Scan(ctx context.Context, businessID string, text string, languageCode string) (*ScanResult, error) {
	if languageCode == "" {
		languageCode = d.cfg.DefaultLanguage
	}

	kws, err := d.loadKeywords(ctx, businessID, languageCode)
	if err != nil {
		return nil, err
	}

	if len(kws) == 0 && languageCode != d.cfg.DefaultLanguage {
		slog.Debug("no keywords for language, falling back to default",
			"business_id", businessID,
			"language", languageCode,
			"default", d.cfg.DefaultLanguage,
		)
		kws, err = d.loadKeywords(ctx, businessID, d.cfg.DefaultLanguage)
		if err != nil {
			return nil, err
		}
	}

	lowered := strings.ToLower(text)

	result := &ScanResult{}
	seen := make(map[string]bool)
	total := 0

	for _, kw := range kws {
		if seen[kw.ID] {
			continue
		}
		if !strings.Contains(lowered, strings.ToLower(kw.Keyword)) {
			continue
		}
		seen[kw.ID] = true
		total += kw.Severity
		result.Matches = append(result.Matches, domain.KeywordMatch{
			KeywordID: kw.ID,
			Keyword:   kw.Keyword,
			Category:  kw.Category,
			Severity:  kw.Severity,
		})
	}

	if total > d.cfg.SeverityCap {
		total = d.cfg.SeverityCap
	}
	result.Score = float64(total) / float64(d.cfg.SeverityCap)

	return result, nil
}

// loadKeywords fetches the active keyword set, through the cache when one is
// configured.
func (d *Detector) loadKeywords(ctx context.Context, businessID string, language string) ([]*domain.RedFlagKeyword, error) {
	if d.source != nil {
		cached, err := d.source.GetKeywords(ctx, businessID, language)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	kws, err := d.repo.ListKeywords(ctx, businessID, language, true)
	if err != nil {
		return nil, err
	}

	if d.source != nil && len(kws) > 0 {
		if err := d.source.SetKeywords(ctx, businessID, language, kws, d.cfg.CacheTTL); err != nil {
			slog.Debug("failed to cache keyword set", "language", language, "error", err)
		}
	}

	return kws, nil
}

// Invalidate drops the cached keyword set for a language. Called after
// keyword create/update.
func (d *Detector) Invalidate(ctx context.Context, businessID string, language string) {
	if d.source == nil {
		return
	}
	_ = d.source.Delete(ctx, businessID, domain.KeywordCacheKey(language))
}
