// Package resolve merges normalized per-provider items into canonical
// entities using exact name-key matching with a fuzzy bigram-Dice fallback.
package resolve

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/arc-tools/reconcile-cli/internal/diff"
	"github.com/arc-tools/reconcile-cli/internal/model"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
)

// Resolve consumes normalized items from all active providers and produces
// canonical entities with per-provider match provenance and diff reports.
//
// Providers are processed strictly in the given order, items in their given
// order. Exact matching assigns to the first canonical entity for the name
// key that lacks an entry for the provider; the fuzzy fallback assigns to the
// highest-scoring candidate, with earlier-created entities winning ties.
// Fuzzy matching never considers id-keys on either side.
//
// The fallback scan is O(existing entities) per unmatched item, which is fine
// for catalogs in the low thousands; callers needing more should add blocking
// without changing the matching semantics.
func Resolve(bySource map[string][]model.SourceItem, activeProviders []string, fuzzyThreshold float64) []model.CanonicalItem {
	var canonicals []*model.CanonicalItem
	exactIndex := make(map[string][]int)

	for _, providerID := range activeProviders {
		for idx, item := range bySource[providerID] {
			nameKey := normalize.NameKey(item.Name)
			if nameKey == "" {
				nameKey = normalize.IDKey(providerID, item.SourceItemID, idx)
			}

			if target := exactCandidate(canonicals, exactIndex[nameKey], providerID); target != nil {
				assign(target, providerID, item, model.MatchExact, 1)
				continue
			}

			if !normalize.IsIDKey(nameKey) {
				if target, score := fuzzyCandidate(canonicals, providerID, nameKey); target != nil && score >= fuzzyThreshold {
					assign(target, providerID, item, model.MatchFuzzy, round3(score))
					continue
				}
			}

			c := &model.CanonicalItem{
				CanonicalID:  uuid.New().String(),
				NameKey:      nameKey,
				DisplayName:  seedDisplayName(item, providerID, idx),
				BySource:     map[string]model.SourceItem{providerID: item},
				MatchDetails: map[string]model.MatchDetail{providerID: {Method: model.MatchExact, Confidence: 1}},
			}
			exactIndex[nameKey] = append(exactIndex[nameKey], len(canonicals))
			canonicals = append(canonicals, c)
		}
	}

	items := make([]model.CanonicalItem, 0, len(canonicals))
	for _, c := range canonicals {
		c.DisplayName = pickDisplayName(c, activeProviders)
		report := diff.Report(*c, activeProviders)
		c.DiffReport = &report
		items = append(items, *c)
	}

	sort.SliceStable(items, func(i, j int) bool {
		si, sj := items[i].DiffReport.Severity, items[j].DiffReport.Severity
		if si != sj {
			return si > sj
		}
		return strings.ToLower(items[i].DisplayName) < strings.ToLower(items[j].DisplayName)
	})
	return items
}

// exactCandidate returns the first indexed canonical entity for the name key
// that does not already hold an entry for the provider.
func exactCandidate(canonicals []*model.CanonicalItem, indexes []int, providerID string) *model.CanonicalItem {
	for _, i := range indexes {
		if _, taken := canonicals[i].BySource[providerID]; !taken {
			return canonicals[i]
		}
	}
	return nil
}

// fuzzyCandidate scans every open canonical entity and tracks the maximum
// Dice score. Strict > means the earliest-created entity wins ties.
func fuzzyCandidate(canonicals []*model.CanonicalItem, providerID, nameKey string) (*model.CanonicalItem, float64) {
	var best *model.CanonicalItem
	bestScore := 0.0
	for _, c := range canonicals {
		if _, taken := c.BySource[providerID]; taken {
			continue
		}
		if normalize.IsIDKey(c.NameKey) {
			continue
		}
		if score := DiceSimilarity(nameKey, c.NameKey); score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

func assign(c *model.CanonicalItem, providerID string, item model.SourceItem, method model.MatchMethod, confidence float64) {
	c.BySource[providerID] = item
	c.MatchDetails[providerID] = model.MatchDetail{Method: method, Confidence: confidence}
}

// seedDisplayName is the display name a freshly created entity starts with;
// it survives only when no provider contributes a non-empty name.
func seedDisplayName(item model.SourceItem, providerID string, idx int) string {
	if item.Name != "" {
		return item.Name
	}
	if item.SourceItemID != "" {
		return item.SourceItemID
	}
	return fmt.Sprintf("%s-item-%d", providerID, idx)
}

// pickDisplayName scans providers in the original active order and takes the
// first non-empty name, falling back to the seeded display name.
func pickDisplayName(c *model.CanonicalItem, activeProviders []string) string {
	for _, providerID := range activeProviders {
		if item, ok := c.BySource[providerID]; ok && item.Name != "" {
			return item.Name
		}
	}
	return c.DisplayName
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
