package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-tools/reconcile-cli/internal/model"
)

func fptr(v float64) *float64 { return &v }

func canonical(bySource map[string]model.SourceItem) model.CanonicalItem {
	return model.CanonicalItem{
		CanonicalID: "c1",
		NameKey:     "quick battery",
		DisplayName: "Quick Battery",
		BySource:    bySource,
	}
}

func TestReport_AgreementIsZeroSeverity(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {Name: "Quick Battery", Type: "tool", Value: fptr(120)},
		"arcvault":  {Name: "quick battery", Type: "Tool", Value: fptr(120)},
	})

	report := Report(item, []string{"metaforge", "arcvault"})

	assert.Empty(t, report.MissingIn)
	assert.False(t, report.FieldDiffers.Name)
	assert.False(t, report.FieldDiffers.Type)
	assert.False(t, report.FieldDiffers.Value)
	assert.False(t, report.RecipeDiffers)
	assert.Equal(t, 0, report.Severity)
	assert.Empty(t, report.Explanation)
}

func TestReport_MissingInFollowsProviderOrder(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"arcvault": {Name: "Quick Battery"},
	})

	report := Report(item, []string{"metaforge", "arcvault", "stashdb"})

	assert.Equal(t, []string{"metaforge", "stashdb"}, report.MissingIn)
	assert.Equal(t, 2*18, report.Severity)
	require.NotEmpty(t, report.Explanation)
	assert.Equal(t, "missing in: metaforge, stashdb", report.Explanation[0])
}

func TestReport_InconsistentPresenceDiffers(t *testing.T) {
	// One provider has a rarity, the other holds the item but does not.
	item := canonical(map[string]model.SourceItem{
		"metaforge": {Name: "Quick Battery", Rarity: "rare"},
		"arcvault":  {Name: "Quick Battery"},
	})

	report := Report(item, []string{"metaforge", "arcvault"})

	assert.True(t, report.FieldDiffers.Rarity)
	assert.Contains(t, report.Explanation, "rarity differs: metaforge=rare, arcvault=-")
}

func TestReport_ValueRoundedToFourDecimals(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {Name: "Quick Battery", Value: fptr(0.12340001)},
		"arcvault":  {Name: "Quick Battery", Value: fptr(0.12339999)},
	})

	report := Report(item, []string{"metaforge", "arcvault"})
	assert.False(t, report.FieldDiffers.Value)

	item = canonical(map[string]model.SourceItem{
		"metaforge": {Name: "Quick Battery", Value: fptr(0.1234)},
		"arcvault":  {Name: "Quick Battery", Value: fptr(0.1235)},
	})

	report = Report(item, []string{"metaforge", "arcvault"})
	assert.True(t, report.FieldDiffers.Value)
	assert.Contains(t, report.Explanation, "value differs: metaforge=0.1234, arcvault=0.1235")
}

func TestRecipeSignature_OrderInvariant(t *testing.T) {
	a := model.SourceItem{
		Inputs: []model.RecipePart{
			{ItemID: "scrap", Amount: 3},
			{ItemID: "wire", Amount: 2},
		},
		Outputs: []model.RecipePart{{ItemID: "battery", Amount: 1}},
	}
	b := model.SourceItem{
		Inputs: []model.RecipePart{
			{ItemID: "wire", Amount: 2},
			{ItemID: "scrap", Amount: 3},
		},
		Outputs: []model.RecipePart{{ItemID: "battery", Amount: 1}},
	}

	assert.Equal(t, RecipeSignature(a), RecipeSignature(b))
	assert.Equal(t, "in[scrap:3|wire:2]out[battery:1]", RecipeSignature(a))
}

func TestRecipeSignature_EmptyRecipe(t *testing.T) {
	assert.Equal(t, "", RecipeSignature(model.SourceItem{}))
}

func TestReport_RecipeOrderDoesNotDiffer(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {
			Name:   "Quick Battery",
			Inputs: []model.RecipePart{{ItemID: "scrap", Amount: 3}, {ItemID: "wire", Amount: 2}},
		},
		"arcvault": {
			Name:   "Quick Battery",
			Inputs: []model.RecipePart{{ItemID: "wire", Amount: 2}, {ItemID: "scrap", Amount: 3}},
		},
	})

	report := Report(item, []string{"metaforge", "arcvault"})
	assert.False(t, report.RecipeDiffers)
}

func TestReport_RecipeDiffersOnAmount(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {
			Name:   "Quick Battery",
			Inputs: []model.RecipePart{{ItemID: "scrap", Amount: 3}},
		},
		"arcvault": {
			Name:   "Quick Battery",
			Inputs: []model.RecipePart{{ItemID: "scrap", Amount: 4}},
		},
	})

	report := Report(item, []string{"metaforge", "arcvault"})
	assert.True(t, report.RecipeDiffers)
	assert.Equal(t, 20, report.Severity)
	assert.Contains(t, report.Explanation, "recipe differs: metaforge=in[scrap:3]out[], arcvault=in[scrap:4]out[]")
}

func TestReport_RecipeIgnoresMissingProviders(t *testing.T) {
	// Providers without the item never count toward recipe disagreement.
	item := canonical(map[string]model.SourceItem{
		"metaforge": {
			Name:   "Quick Battery",
			Inputs: []model.RecipePart{{ItemID: "scrap", Amount: 3}},
		},
	})

	report := Report(item, []string{"metaforge", "arcvault"})
	assert.False(t, report.RecipeDiffers)
	assert.Equal(t, []string{"arcvault"}, report.MissingIn)
}

func TestReport_SeverityClampedAt100(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {Name: "Quick Battery"},
	})

	providers := []string{"metaforge", "p2", "p3", "p4", "p5", "p6", "p7"}
	report := Report(item, providers)
	assert.Equal(t, 100, report.Severity)
}

func TestReport_ExplanationOrder(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {
			Name:   "Quick Battery",
			Type:   "tool",
			Rarity: "rare",
			Value:  fptr(100),
			Weight: fptr(2.5),
			Inputs: []model.RecipePart{{ItemID: "scrap", Amount: 3}},
		},
		"arcvault": {
			Name:   "Quik Battery",
			Type:   "gadget",
			Rarity: "epic",
			Value:  fptr(90),
			Weight: fptr(2.4),
			Inputs: []model.RecipePart{{ItemID: "scrap", Amount: 4}},
		},
	})

	report := Report(item, []string{"metaforge", "arcvault", "stashdb"})

	require.Len(t, report.Explanation, 7)
	assert.Equal(t, "missing in: stashdb", report.Explanation[0])
	labels := make([]string, 0, 6)
	for _, line := range report.Explanation[1:] {
		labels = append(labels, strings.SplitN(line, " ", 2)[0])
	}
	assert.Equal(t, []string{"name", "type", "rarity", "value", "weight", "recipe"}, labels)
	assert.Equal(t, 88, report.Severity)
}

func TestReport_Idempotent(t *testing.T) {
	item := canonical(map[string]model.SourceItem{
		"metaforge": {Name: "Quick Battery", Value: fptr(100)},
		"arcvault":  {Name: "Quik Battery", Value: fptr(90)},
	})

	first := Report(item, []string{"metaforge", "arcvault"})
	second := Report(item, []string{"metaforge", "arcvault"})
	assert.Equal(t, first, second)
}
