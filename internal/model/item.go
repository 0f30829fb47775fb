// Package model defines the shared data types for the catalog
// reconciliation pipeline.
package model

import (
	"sort"
	"strings"
)

// MatchMethod describes how a provider record was attached to a canonical item.
type MatchMethod string

const (
	MatchExact MatchMethod = "exact"
	MatchFuzzy MatchMethod = "fuzzy"
	MatchNone  MatchMethod = "none"
)

// RecipePart is one ingredient or output of a crafting recipe.
type RecipePart struct {
	ItemID string  `json:"itemId,omitempty"`
	Name   string  `json:"name,omitempty"`
	Amount float64 `json:"amount"`
}

// Key returns the canonical sort/compare key for a part: the item id when
// present, otherwise the name, lowercased.
func (p RecipePart) Key() string {
	if p.ItemID != "" {
		return strings.ToLower(p.ItemID)
	}
	return strings.ToLower(p.Name)
}

// NormalizeParts deduplicates parts by key (first occurrence wins) and sorts
// them ascending by key, giving every recipe a canonical, comparable order.
func NormalizeParts(parts []RecipePart) []RecipePart {
	if len(parts) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(parts))
	out := make([]RecipePart, 0, len(parts))
	for _, p := range parts {
		k := p.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// SourceItem is one provider's normalized view of one catalog item. Raw
// retains the original payload for display and audit; the resolver and diff
// engine never interpret it.
type SourceItem struct {
	SourceID     string       `json:"sourceId"`
	SourceItemID string       `json:"sourceItemId,omitempty"`
	Name         string       `json:"name,omitempty"`
	Type         string       `json:"type,omitempty"`
	Rarity       string       `json:"rarity,omitempty"`
	Value        *float64     `json:"value,omitempty"`
	Weight       *float64     `json:"weight,omitempty"`
	Inputs       []RecipePart `json:"inputs,omitempty"`
	Outputs      []RecipePart `json:"outputs,omitempty"`
	Raw          any          `json:"raw,omitempty"`
}

// MatchDetail records how one provider's record joined a canonical item.
type MatchDetail struct {
	Method     MatchMethod `json:"method"`
	Confidence float64     `json:"confidence"`
}

// CanonicalItem is one resolved entity: at most one SourceItem per provider.
type CanonicalItem struct {
	CanonicalID  string                 `json:"canonicalId"`
	NameKey      string                 `json:"nameKey"`
	DisplayName  string                 `json:"displayName"`
	BySource     map[string]SourceItem  `json:"bySource"`
	MatchDetails map[string]MatchDetail `json:"matchDetails"`
	DiffReport   *DiffReport            `json:"diffReport,omitempty"`
}

// FieldDiffers flags which scalar fields disagree across providers.
type FieldDiffers struct {
	Name   bool `json:"name"`
	Type   bool `json:"type"`
	Rarity bool `json:"rarity"`
	Value  bool `json:"value"`
	Weight bool `json:"weight"`
}

// DiffReport summarizes provider disagreement for one canonical item.
type DiffReport struct {
	MissingIn     []string     `json:"missingIn"`
	FieldDiffers  FieldDiffers `json:"fieldDiffers"`
	RecipeDiffers bool         `json:"recipeDiffers"`
	Severity      int          `json:"severity"`
	Explanation   []string     `json:"explanation"`
}

// SourceSummary is per-provider metadata for one pipeline run.
type SourceSummary struct {
	SourceID        string `json:"sourceId"`
	FetchedAt       string `json:"fetchedAt"`
	VersionOrCommit string `json:"versionOrCommit"`
	ItemCount       int    `json:"itemCount"`
	Error           string `json:"error,omitempty"`
}

// DiffDataResponse is the pipeline output consumed by the presentation layer.
// Field names and nesting are part of the external contract.
type DiffDataResponse struct {
	GeneratedAt     string          `json:"generatedAt"`
	EnabledSources  []string        `json:"enabledSources"`
	SourceSummaries []SourceSummary `json:"sourceSummaries"`
	CanonicalItems  []CanonicalItem `json:"canonicalItems"`
}
