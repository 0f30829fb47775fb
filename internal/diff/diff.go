// Package diff computes field-level and recipe-level disagreement reports
// for resolved canonical items. Everything here is a pure function over the
// already-resolved data.
package diff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arc-tools/reconcile-cli/internal/model"
)

// missingSignature marks a provider that has no record for the item at all.
const missingSignature = "__missing__"

// Severity weights. The total is clamped to 100.
const (
	weightMissing = 18
	weightName    = 10
	weightType    = 8
	weightRarity  = 8
	weightValue   = 12
	weightWeight  = 12
	weightRecipe  = 20
)

// Report computes the difference report for one canonical item against the
// ordered list of active providers.
func Report(item model.CanonicalItem, activeProviders []string) model.DiffReport {
	report := model.DiffReport{
		MissingIn: []string{},
	}

	for _, providerID := range activeProviders {
		if _, ok := item.BySource[providerID]; !ok {
			report.MissingIn = append(report.MissingIn, providerID)
		}
	}

	name := scalarField(item, activeProviders, "name", func(s model.SourceItem) (string, bool) {
		return s.Name, s.Name != ""
	})
	typ := scalarField(item, activeProviders, "type", func(s model.SourceItem) (string, bool) {
		return s.Type, s.Type != ""
	})
	rarity := scalarField(item, activeProviders, "rarity", func(s model.SourceItem) (string, bool) {
		return s.Rarity, s.Rarity != ""
	})
	value := scalarField(item, activeProviders, "value", func(s model.SourceItem) (string, bool) {
		return roundedNumber(s.Value)
	})
	weight := scalarField(item, activeProviders, "weight", func(s model.SourceItem) (string, bool) {
		return roundedNumber(s.Weight)
	})

	report.FieldDiffers = model.FieldDiffers{
		Name:   name.differs,
		Type:   typ.differs,
		Rarity: rarity.differs,
		Value:  value.differs,
		Weight: weight.differs,
	}

	recipe := recipeField(item, activeProviders)
	report.RecipeDiffers = recipe.differs

	severity := weightMissing * len(report.MissingIn)
	if name.differs {
		severity += weightName
	}
	if typ.differs {
		severity += weightType
	}
	if rarity.differs {
		severity += weightRarity
	}
	if value.differs {
		severity += weightValue
	}
	if weight.differs {
		severity += weightWeight
	}
	if recipe.differs {
		severity += weightRecipe
	}
	if severity > 100 {
		severity = 100
	}
	report.Severity = severity

	explanation := []string{}
	if len(report.MissingIn) > 0 {
		explanation = append(explanation, "missing in: "+strings.Join(report.MissingIn, ", "))
	}
	for _, f := range []fieldResult{name, typ, rarity, value, weight, recipe} {
		if f.differs {
			explanation = append(explanation, f.label+" differs: "+f.detail)
		}
	}
	report.Explanation = explanation

	return report
}

// RecipeSignature renders a provider's recipe in canonical comparable form:
// inputs and outputs each sorted by part key. An item with no parts at all
// yields the empty signature.
func RecipeSignature(item model.SourceItem) string {
	if len(item.Inputs) == 0 && len(item.Outputs) == 0 {
		return ""
	}
	return "in[" + renderParts(item.Inputs) + "]out[" + renderParts(item.Outputs) + "]"
}

type fieldResult struct {
	label   string
	differs bool
	detail  string
}

// scalarField applies the shared differing rule: among providers holding the
// item, the field differs when there are two or more distinct normalized
// values, or when some providers have a value and others do not.
func scalarField(item model.CanonicalItem, activeProviders []string, label string, get func(model.SourceItem) (string, bool)) fieldResult {
	distinct := make(map[string]bool)
	present, absent := 0, 0
	var details []string

	for _, providerID := range activeProviders {
		src, has := item.BySource[providerID]
		if !has {
			details = append(details, providerID+"=-")
			continue
		}
		raw, ok := get(src)
		if !ok {
			absent++
			details = append(details, providerID+"=-")
			continue
		}
		present++
		distinct[strings.ToLower(strings.TrimSpace(raw))] = true
		details = append(details, providerID+"="+raw)
	}

	differs := len(distinct) >= 2 || (present > 0 && absent > 0)
	return fieldResult{label: label, differs: differs, detail: strings.Join(details, ", ")}
}

func recipeField(item model.CanonicalItem, activeProviders []string) fieldResult {
	distinct := make(map[string]bool)
	var details []string

	for _, providerID := range activeProviders {
		src, has := item.BySource[providerID]
		if !has {
			details = append(details, providerID+"="+missingSignature)
			continue
		}
		sig := RecipeSignature(src)
		distinct[sig] = true
		details = append(details, providerID+"="+sig)
	}

	return fieldResult{label: "recipe", differs: len(distinct) >= 2, detail: strings.Join(details, ", ")}
}

func renderParts(parts []model.RecipePart) string {
	sorted := append([]model.RecipePart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })
	rendered := make([]string, 0, len(sorted))
	for _, p := range sorted {
		rendered = append(rendered, fmt.Sprintf("%s:%s", p.Key(), strconv.FormatFloat(p.Amount, 'f', -1, 64)))
	}
	return strings.Join(rendered, "|")
}

// roundedNumber normalizes a numeric field to 4 decimal places for
// comparison, reporting absence for nil values.
func roundedNumber(v *float64) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.FormatFloat(*v, 'f', 4, 64), true
}
