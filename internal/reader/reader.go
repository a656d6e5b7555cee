package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"docchat/internal/model"
)

// Strategy selects how a file is turned into text. It is chosen per file by the caller; the
// reader never falls back from one strategy to another.
type Strategy string

const (
	StrategyPDF       Strategy = "pdf"
	StrategyPDFPages  Strategy = "pdf-pages"
	StrategyDirectory Strategy = "directory"
	StrategyRemote    Strategy = "remote"
)

var (
	ErrNoText              = errors.New("no text extracted")
	ErrUnknownStrategy     = errors.New("unknown extraction strategy")
	ErrUnsupportedFile     = errors.New("unsupported file type")
	ErrRemoteNotConfigured = errors.New("remote parser is not configured")
)

// Strategies lists every accepted strategy in display order.
func Strategies() []Strategy {
	return []Strategy{StrategyPDF, StrategyPDFPages, StrategyDirectory, StrategyRemote}
}

func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Strategies() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
}

type Reader struct {
	remote *RemoteParser
	logger zerolog.Logger
}

// New builds a reader. remote may be nil, in which case the remote strategy fails with
// ErrRemoteNotConfigured.
func New(remote *RemoteParser, logger zerolog.Logger) *Reader {
	return &Reader{remote: remote, logger: logger}
}

// Read extracts raw units from path using strategy. An empty result is ErrNoText.
func (r *Reader) Read(ctx context.Context, strategy Strategy, path string) ([]model.Unit, error) {
	var (
		units []model.Unit
		err   error
	)
	switch strategy {
	case StrategyPDF:
		units, err = readPDF(path)
	case StrategyPDFPages:
		units, err = readPDFPages(ctx, path)
	case StrategyDirectory:
		units, err = readDirectory(path, r.logger)
	case StrategyRemote:
		if r.remote == nil {
			return nil, ErrRemoteNotConfigured
		}
		units, err = r.remote.Read(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s with %s strategy failed: %w", path, strategy, err)
	}

	units = dropEmpty(units)
	if len(units) == 0 {
		return nil, fmt.Errorf("read %s with %s strategy failed: %w", path, strategy, ErrNoText)
	}
	r.logger.Debug().Str("path", path).Str("strategy", string(strategy)).Int("units", len(units)).Msg("document read")
	return units, nil
}

func dropEmpty(units []model.Unit) []model.Unit {
	out := units[:0]
	for _, u := range units {
		if strings.TrimSpace(u.Text) != "" {
			out = append(out, u)
		}
	}
	return out
}
