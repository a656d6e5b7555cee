package reader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"docchat/internal/model"
)

type extractFunc func(path string) (string, error)

var extractors = map[string]extractFunc{
	".pdf":      pdfText,
	".txt":      plainText,
	".md":       plainText,
	".markdown": plainText,
	".json":     plainText,
	".csv":      csvText,
	".html":     htmlText,
	".htm":      htmlText,
}

// Supported reports whether the directory strategy can extract path.
func Supported(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// readDirectory reads every supported file directly inside a directory, or the single file
// when path is not a directory. One unit per file.
func readDirectory(path string, logger zerolog.Logger) ([]model.Unit, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input failed: %w", err)
	}
	if !info.IsDir() {
		if !Supported(path) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
		}
		unit, err := readOne(path)
		if err != nil {
			return nil, err
		}
		return []model.Unit{unit}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list directory failed: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var units []model.Unit
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(path, entry.Name())
		if !Supported(full) {
			logger.Debug().Str("path", full).Msg("skip unsupported file")
			continue
		}
		unit, err := readOne(full)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func readOne(path string) (model.Unit, error) {
	ext := strings.ToLower(filepath.Ext(path))
	text, err := extractors[ext](path)
	if err != nil {
		return model.Unit{}, fmt.Errorf("extract %s failed: %w", filepath.Base(path), err)
	}
	return model.Unit{
		Text: text,
		Metadata: map[string]string{
			"file_name": filepath.Base(path),
			"source":    path,
			"file_type": strings.TrimPrefix(ext, "."),
		},
	}, nil
}

func plainText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// csvText renders each row as its cells joined by ", ".
func csvText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var b strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv failed: %w", err)
		}
		b.WriteString(strings.Join(record, ", "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// htmlText keeps visible text, dropping script and style bodies. Block elements end a line.
func htmlText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	z := html.NewTokenizer(bytes.NewReader(raw))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("parse html failed: %w", err)
			}
			return collapseBlankLines(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br":
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				b.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				last := b.String()[b.Len()-1]
				if last != '\n' && last != ' ' {
					b.WriteByte(' ')
				}
			}
			b.WriteString(text)
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
