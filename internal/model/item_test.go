package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipePart_Key(t *testing.T) {
	assert.Equal(t, "wire-02", RecipePart{ItemID: "Wire-02", Name: "Copper Wire"}.Key())
	assert.Equal(t, "copper wire", RecipePart{Name: "Copper Wire"}.Key())
}

func TestNormalizeParts_SortsByKey(t *testing.T) {
	parts := NormalizeParts([]RecipePart{
		{ItemID: "wire-02", Amount: 3},
		{ItemID: "cell-old", Amount: 1},
	})
	require.Len(t, parts, 2)
	assert.Equal(t, "cell-old", parts[0].ItemID)
	assert.Equal(t, "wire-02", parts[1].ItemID)
}

func TestNormalizeParts_DeduplicatesFirstWins(t *testing.T) {
	parts := NormalizeParts([]RecipePart{
		{ItemID: "wire-02", Amount: 3},
		{ItemID: "WIRE-02", Amount: 5},
	})
	require.Len(t, parts, 1)
	assert.Equal(t, 3.0, parts[0].Amount)
}

func TestNormalizeParts_Empty(t *testing.T) {
	assert.Nil(t, NormalizeParts(nil))
	assert.Nil(t, NormalizeParts([]RecipePart{}))
}
