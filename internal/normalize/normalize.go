// Package normalize maps each provider's raw heterogeneous records into the
// common SourceItem shape. One total, pure mapping per provider tag; malformed
// or unrecognized fields are omitted, never an error.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/arc-tools/reconcile-cli/internal/model"
)

// Provider ids for the fixed set of catalog sources.
const (
	SourceMetaforge = "metaforge"
	SourceArcvault  = "arcvault"
	SourceStashDB   = "stashdb"
	SourceTradepost = "tradepost"
)

const idKeyPrefix = "id:"

// NameKey normalizes a display name into the primary matching key: lowercase,
// NFKD-decomposed with combining marks stripped, non-alphanumerics collapsed
// to single spaces.
func NameKey(name string) string {
	decomposed := norm.NFKD.String(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(decomposed))
	lastSpace := true
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark from decomposition
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// IDKey builds the fallback key for items whose name normalizes to empty.
// Id-keys are never eligible for fuzzy matching.
func IDKey(sourceID, sourceItemID string, index int) string {
	ref := sourceItemID
	if ref == "" {
		ref = strconv.Itoa(index)
	}
	return idKeyPrefix + sourceID + ":" + ref
}

// IsIDKey reports whether key is an id-based fallback key.
func IsIDKey(key string) bool {
	return strings.HasPrefix(key, idKeyPrefix)
}

// Item normalizes one raw provider record. The mapping is a fixed tagged
// union keyed by sourceID; unknown providers yield a SourceItem carrying only
// the source id and raw payload.
func Item(sourceID string, raw any) model.SourceItem {
	rec, _ := raw.(map[string]any)
	var item model.SourceItem
	switch sourceID {
	case SourceMetaforge:
		item = metaforgeItem(rec)
	case SourceArcvault:
		item = arcvaultItem(rec)
	case SourceStashDB:
		item = stashdbItem(rec)
	case SourceTradepost:
		item = tradepostItem(rec)
	}
	item.SourceID = sourceID
	item.Raw = raw
	return item
}

// Items normalizes a whole raw payload for one provider, preserving order.
func Items(sourceID string, raws []any) []model.SourceItem {
	out := make([]model.SourceItem, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Item(sourceID, raw))
	}
	return out
}

// metaforgeItem maps a MetaForge API record. MetaForge crafting records imply
// the item is itself the craftable output, so a single-entry outputs list is
// synthesized from the item's own id.
func metaforgeItem(rec map[string]any) model.SourceItem {
	item := model.SourceItem{
		SourceItemID: asString(rec["id"]),
		Name:         nameOf(rec["name"]),
		Type:         asString(rec["item_type"]),
		Rarity:       asString(rec["rarity"]),
		Value:        asNumber(rec["value"]),
		Weight:       asNumber(rec["weightKg"]),
	}
	item.Inputs = model.NormalizeParts(extractParts(rec["crafting"]))
	if item.SourceItemID != "" && len(item.Inputs) > 0 {
		amount := 1.0
		if n := asNumber(rec["output_amount"]); n != nil && *n > 0 {
			amount = *n
		}
		item.Outputs = []model.RecipePart{{ItemID: item.SourceItemID, Name: item.Name, Amount: amount}}
	}
	return item
}

// arcvaultItem maps an ArcVault dump record. Names may be localized maps;
// recipe entries carry nested item/component sub-objects.
func arcvaultItem(rec map[string]any) model.SourceItem {
	item := model.SourceItem{
		SourceItemID: asString(rec["item_id"]),
		Name:         nameOf(rec["name"]),
		Type:         asString(rec["type"]),
		Rarity:       asString(rec["rarity"]),
		Value:        asNumber(rec["sell_price"]),
		Weight:       asNumber(rec["weight"]),
	}
	item.Inputs = model.NormalizeParts(extractParts(rec["recipe"]))
	if item.SourceItemID != "" && len(item.Inputs) > 0 {
		item.Outputs = []model.RecipePart{{ItemID: item.SourceItemID, Name: item.Name, Amount: 1}}
	}
	return item
}

// stashdbItem maps a StashDB wiki export record (also the shape persisted by
// the snapshot store). Component links become recipe inputs.
func stashdbItem(rec map[string]any) model.SourceItem {
	item := model.SourceItem{
		SourceItemID: asString(rec["id"]),
		Name:         nameOf(rec["name"]),
		Type:         asString(rec["type"]),
		Rarity:       asString(rec["rarity"]),
		Value:        asNumber(rec["value"]),
		Weight:       asNumber(rec["weight"]),
	}
	item.Inputs = model.NormalizeParts(extractParts(rec["components"]))
	if item.SourceItemID != "" && len(item.Inputs) > 0 {
		item.Outputs = []model.RecipePart{{ItemID: item.SourceItemID, Name: item.Name, Amount: 1}}
	}
	return item
}

// tradepostItem maps a community price-sheet row. Sheets carry no stable ids
// or recipes; numeric cells may arrive as strings.
func tradepostItem(rec map[string]any) model.SourceItem {
	return model.SourceItem{
		Name:   nameOf(rec["name"]),
		Type:   asString(rec["type"]),
		Rarity: asString(rec["rarity"]),
		Value:  asNumber(rec["value"]),
		Weight: asNumber(rec["weight"]),
	}
}

// nameOf extracts a display name from either a plain string or a localized
// map, preferring the "en" entry and falling back to any present value.
func nameOf(v any) string {
	switch n := v.(type) {
	case string:
		return strings.TrimSpace(n)
	case map[string]any:
		if en := asString(n["en"]); en != "" {
			return en
		}
		for _, lv := range n {
			if s := asString(lv); s != "" {
				return s
			}
		}
	}
	return ""
}

// extractParts accepts the two raw recipe shapes: an array of entries with
// nested item/component sub-objects, or a map from item id to numeric amount.
func extractParts(v any) []model.RecipePart {
	switch parts := v.(type) {
	case []any:
		var out []model.RecipePart
		for _, entry := range parts {
			if p, ok := partFromEntry(entry); ok {
				out = append(out, p)
			}
		}
		return out
	case map[string]any:
		var out []model.RecipePart
		for id, amt := range parts {
			n := asNumber(amt)
			if id == "" || n == nil || *n <= 0 {
				continue
			}
			out = append(out, model.RecipePart{ItemID: id, Amount: *n})
		}
		return out
	}
	return nil
}

// partFromEntry maps one array-shaped recipe entry. The referenced item may
// sit at the top level or under an item/component sub-object; the amount may
// be spelled amount, quantity, or count and defaults to 1.
func partFromEntry(v any) (model.RecipePart, bool) {
	entry, ok := v.(map[string]any)
	if !ok {
		return model.RecipePart{}, false
	}

	ref := entry
	for _, key := range []string{"item", "component"} {
		if sub, ok := entry[key].(map[string]any); ok {
			ref = sub
			break
		}
	}

	part := model.RecipePart{
		ItemID: firstString(ref, "itemId", "item_id", "id"),
		Name:   nameOf(ref["name"]),
		Amount: 1,
	}
	if part.ItemID == "" && part.Name == "" {
		return model.RecipePart{}, false
	}
	for _, key := range []string{"amount", "quantity", "count"} {
		if n := asNumber(entry[key]); n != nil {
			part.Amount = *n
			break
		}
	}
	if part.Amount <= 0 {
		return model.RecipePart{}, false
	}
	return part, true
}

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(rec[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case fmt.Stringer:
		return s.String()
	}
	return ""
}

func asNumber(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return &f
		}
	}
	return nil
}
