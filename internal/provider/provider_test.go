package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/arc-tools/reconcile-cli/internal/fetcher"
)

type fakeFetcher struct{ id string }

func (f *fakeFetcher) SourceID() string { return f.id }

func (f *fakeFetcher) Fetch(ctx context.Context) (*Payload, error) {
	return &Payload{SourceID: f.id}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeFetcher{id: "metaforge"})
	r.Register(&fakeFetcher{id: "arcvault"})

	assert.NotNil(t, r.Get("metaforge"))
	assert.Nil(t, r.Get("ghost"))
	assert.Equal(t, []string{"arcvault", "metaforge"}, r.List())

	// Re-registering replaces.
	replacement := &fakeFetcher{id: "metaforge"}
	r.Register(replacement)
	assert.Same(t, replacement, r.Get("metaforge").(*fakeFetcher))
}

func TestMetaforge_FetchAllPages(t *testing.T) {
	const totalPages = 3
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"version":     "v12",
			"page":        page,
			"total_pages": totalPages,
			"items": []map[string]any{
				{"id": fmt.Sprintf("item-%d", page), "name": fmt.Sprintf("Item %d", page)},
			},
		}))
	}))
	defer srv.Close()

	m := NewMetaforge(MetaforgeConfig{BaseURL: srv.URL, MaxParallel: 2}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))

	payload, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "metaforge", payload.SourceID)
	assert.Equal(t, "v12", payload.VersionOrCommit)
	assert.Equal(t, int32(totalPages), requests.Load())

	// Pages reassemble in page order regardless of fetch order.
	require.Len(t, payload.ItemsRaw, totalPages)
	for i, raw := range payload.ItemsRaw {
		rec, ok := raw.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("item-%d", i+1), rec["id"])
	}
}

func TestMetaforge_SinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"version":     "v12",
			"page":        1,
			"total_pages": 1,
			"items":       []map[string]any{{"id": "only", "name": "Only Item"}},
		}))
	}))
	defer srv.Close()

	m := NewMetaforge(MetaforgeConfig{BaseURL: srv.URL}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	payload, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, payload.ItemsRaw, 1)
}

func TestMetaforge_PageFailureFailsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"version":     "v12",
			"page":        1,
			"total_pages": 2,
			"items":       []map[string]any{{"id": "one"}},
		}))
	}))
	defer srv.Close()

	m := NewMetaforge(MetaforgeConfig{BaseURL: srv.URL}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	_, err := m.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metaforge page 2")
}

func TestArcvault_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"commit":"abc1234","items":[{"id":"battery_01","names":{"en":"Quick Battery"}}]}`))
	}))
	defer srv.Close()

	a := NewArcvault(ArcvaultConfig{DumpURL: srv.URL}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	payload, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "arcvault", payload.SourceID)
	assert.Equal(t, "abc1234", payload.VersionOrCommit)
	assert.Len(t, payload.ItemsRaw, 1)
}

func TestArcvault_MissingItemsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"commit":"abc1234"}`))
	}))
	defer srv.Close()

	a := NewArcvault(ArcvaultConfig{DumpURL: srv.URL}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no items field")
}

func TestStashDB_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"revision":"rev-42","generated":"2026-03-01T11:00:00Z","items":[{"id":"axe_02","name":"Arc Axe"}]}`))
	}))
	defer srv.Close()

	s := NewStashDB(StashDBConfig{ExportURL: srv.URL}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	payload, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stashdb", payload.SourceID)
	assert.Equal(t, "rev-42", payload.VersionOrCommit)
	assert.Len(t, payload.ItemsRaw, 1)
}

func TestTradepost_Fetch(t *testing.T) {
	sheet := buildTradepostSheet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(sheet)
	}))
	defer srv.Close()

	tp := NewTradepost(TradepostConfig{
		SheetURL:  srv.URL + "/prices.xlsx",
		SheetName: "Prices",
		TempDir:   t.TempDir(),
	}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), nil)

	payload, err := tp.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tradepost", payload.SourceID)
	assert.Len(t, payload.VersionOrCommit, 12)

	require.Len(t, payload.ItemsRaw, 2)
	first, ok := payload.ItemsRaw[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Quick Battery", first["name"])
	assert.Equal(t, "120", first["value"])

	// The row with the empty value cell simply omits the key.
	second, ok := payload.ItemsRaw[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Arc Axe", second["name"])
	_, hasValue := second["value"]
	assert.False(t, hasValue)
}

func TestTradepost_NoDownloaderForScheme(t *testing.T) {
	tp := NewTradepost(TradepostConfig{SheetURL: "ftp://mirror.tradepost.gg/prices.xlsx"}, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), nil)
	_, err := tp.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no downloader for scheme "ftp"`)
}

// buildTradepostSheet renders an in-memory XLSX price sheet fixture.
func buildTradepostSheet(t *testing.T) []byte {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Prices")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"Name", "Type", "Value", "Weight"},
		{"Quick Battery", "tool", "120", "2.5"},
		{"Arc Axe", "weapon", "", "4"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}
