package fetcher

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// targetColumns are header names recognized as the target column, in
// preference order. Without a header match the first column wins.
var targetColumns = []string{"target", "address", "contract", "url"}

// TargetOptions configures bulk target list parsing and, for remote
// sources, the transport used to download them.
type TargetOptions struct {
	CSV  CSVOptions
	XLSX XLSXOptions
	HTTP HTTPOptions
	FTP  FTPOptions
}

// ReadTargets loads raw target strings from a local file or a remote URL.
// Remote sources are downloaded first; ZIP archives are extracted and every
// contained list is read. Blank lines and duplicate entries are dropped.
func ReadTargets(ctx context.Context, source string, opts TargetOptions) ([]string, error) {
	path := source
	if IsRemote(source) {
		f, err := ForURL(source, opts)
		if err != nil {
			return nil, err
		}
		tmp, err := downloadTemp(ctx, f, source)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp) //nolint:errcheck
		path = tmp
	}

	raw, err := readTargetFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	out := dedupTargets(raw)
	zap.L().Info("target list loaded",
		zap.String("source", source),
		zap.Int("targets", len(out)),
		zap.Int("dropped", len(raw)-len(out)),
	)
	return out, nil
}

func readTargetFile(ctx context.Context, path string, opts TargetOptions) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return readZippedTargets(ctx, path, opts)
	case ".xlsx":
		return readXLSXTargets(path, opts.XLSX)
	case ".json":
		return readJSONTargets(ctx, path)
	default:
		// .csv, .txt and anything else line-oriented.
		return readCSVTargets(ctx, path, opts.CSV)
	}
}

func readZippedTargets(ctx context.Context, path string, opts TargetOptions) ([]string, error) {
	dir, err := os.MkdirTemp("", "provenance-import-*")
	if err != nil {
		return nil, eris.Wrap(err, "targets: temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	files, err := ExtractZIP(path, dir)
	if err != nil {
		return nil, err
	}

	var all []string
	for _, f := range files {
		if strings.ToLower(filepath.Ext(f)) == ".zip" {
			continue // no nested archives
		}
		targets, err := readTargetFile(ctx, f, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, targets...)
	}
	return all, nil
}

func readCSVTargets(ctx context.Context, path string, opts CSVOptions) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "targets: open csv")
	}
	defer f.Close() //nolint:errcheck

	opts.TrimSpace = true
	if opts.Comment == 0 {
		opts.Comment = '#'
	}

	rowCh, errCh := StreamCSV(ctx, f, opts)

	// A first row naming a recognized column is a header; otherwise the
	// first column is the target.
	col := 0
	first := true
	var targets []string
	for row := range rowCh {
		if len(row) == 0 {
			continue
		}
		if first {
			first = false
			if c := targetColumn(row); c >= 0 {
				col = c
				continue
			}
		}
		if col < len(row) && row[col] != "" {
			targets = append(targets, row[col])
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return targets, nil
}

func readXLSXTargets(path string, opts XLSXOptions) ([]string, error) {
	rows, err := ReadXLSX(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	start := 0
	if c := targetColumn(rows[0]); c >= 0 {
		col = c
		start = 1
	}

	var targets []string
	for _, row := range rows[start:] {
		if col < len(row) {
			if v := strings.TrimSpace(row[col]); v != "" {
				targets = append(targets, v)
			}
		}
	}
	return targets, nil
}

// readJSONTargets accepts an array of strings or an array of objects with a
// recognized target field.
func readJSONTargets(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "targets: open json")
	}
	defer f.Close() //nolint:errcheck

	elemCh, errCh := DecodeJSONArray[json.RawMessage](ctx, f)

	var targets []string
	for elem := range elemCh {
		var s string
		if err := json.Unmarshal(elem, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				targets = append(targets, s)
			}
			continue
		}

		var obj map[string]string
		if err := json.Unmarshal(elem, &obj); err != nil {
			return nil, eris.Errorf("targets: element is neither string nor object: %s", elem)
		}
		for _, key := range targetColumns {
			if v := strings.TrimSpace(obj[key]); v != "" {
				targets = append(targets, v)
				break
			}
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return targets, nil
}

// targetColumn returns the index of the first recognized header name, or -1.
func targetColumn(header []string) int {
	for _, name := range targetColumns {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}

func dedupTargets(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func downloadTemp(ctx context.Context, f Fetcher, source string) (string, error) {
	ext := filepath.Ext(source)
	if u, err := url.Parse(source); err == nil {
		ext = filepath.Ext(u.Path)
	}
	tmp, err := os.CreateTemp("", "provenance-download-*"+ext)
	if err != nil {
		return "", eris.Wrap(err, "targets: temp file")
	}
	_ = tmp.Close()

	if _, err := f.DownloadToFile(ctx, source, tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
