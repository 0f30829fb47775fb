package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arc-tools/reconcile-cli/internal/fetcher"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
)

// TradepostConfig configures the community price-sheet fetcher.
type TradepostConfig struct {
	SheetURL  string `yaml:"sheet_url" mapstructure:"sheet_url"`
	SheetName string `yaml:"sheet_name" mapstructure:"sheet_name"`
	TempDir   string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// Tradepost fetches the community-maintained XLSX price sheet, published on
// an HTTP mirror and an FTP mirror. Rows become raw map records keyed by the
// lowercased header row.
type Tradepost struct {
	cfg  TradepostConfig
	http fetcher.Downloader
	ftp  fetcher.Downloader
}

// NewTradepost creates the Tradepost fetcher.
func NewTradepost(cfg TradepostConfig, httpDl, ftpDl fetcher.Downloader) *Tradepost {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Tradepost{cfg: cfg, http: httpDl, ftp: ftpDl}
}

func (t *Tradepost) SourceID() string { return normalize.SourceTradepost }

func (t *Tradepost) Fetch(ctx context.Context) (*Payload, error) {
	path, checksum, err := t.download(ctx)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	header, err := fetcher.ReadXLSXHeader(path, fetcher.XLSXOptions{SheetName: t.cfg.SheetName})
	if err != nil {
		return nil, err
	}
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: t.cfg.SheetName, SkipRows: 1})
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(header))
		for i, col := range header {
			key := strings.ToLower(strings.TrimSpace(col))
			if key == "" || i >= len(row) {
				continue
			}
			if cell := strings.TrimSpace(row[i]); cell != "" {
				rec[key] = cell
			}
		}
		if len(rec) > 0 {
			items = append(items, rec)
		}
	}

	zap.L().Debug("provider: tradepost sheet parsed",
		zap.Int("rows", len(rows)),
		zap.Int("items", len(items)),
	)
	return &Payload{
		SourceID:        t.SourceID(),
		FetchedAt:       time.Now().UTC(),
		VersionOrCommit: checksum,
		ItemsRaw:        items,
	}, nil
}

// download retrieves the sheet by scheme (http(s) or ftp) into a temp file
// and returns its path plus a short content checksum used as the version.
func (t *Tradepost) download(ctx context.Context) (string, string, error) {
	u, err := url.Parse(t.cfg.SheetURL)
	if err != nil {
		return "", "", eris.Wrap(err, "provider: parse tradepost url")
	}

	dl := t.http
	if u.Scheme == "ftp" {
		dl = t.ftp
	}
	if dl == nil {
		return "", "", eris.Errorf("provider: no downloader for scheme %q", u.Scheme)
	}

	body, err := dl.Download(ctx, t.cfg.SheetURL)
	if err != nil {
		return "", "", eris.Wrap(err, "provider: download tradepost sheet")
	}
	defer body.Close()

	out, err := os.CreateTemp(t.cfg.TempDir, "tradepost-*"+filepath.Ext(u.Path))
	if err != nil {
		return "", "", eris.Wrap(err, "provider: create temp sheet")
	}
	defer out.Close()

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hash), body); err != nil {
		os.Remove(out.Name())
		return "", "", eris.Wrap(err, "provider: write temp sheet")
	}
	return out.Name(), hex.EncodeToString(hash.Sum(nil))[:12], nil
}
