package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/onboardflow/pkg/persistence"
	"github.com/dukex/onboardflow/pkg/persistence/file"
	"github.com/dukex/onboardflow/pkg/persistence/postgresql"
)

// NewPersistence picks the adapter by URL scheme: file://<dir> or postgres(ql)://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("file persistence needs a directory: %q", databaseURL)
		}

		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
