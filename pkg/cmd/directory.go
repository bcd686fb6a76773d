package cmd

import (
	"fmt"
	"time"

	"github.com/dukex/onboardflow/pkg/directory"
)

// NewDirectory loads the directory file and caches lookups for ttl. It returns nil without a file.
func NewDirectory(path string, ttl time.Duration) (*directory.Cached, error) {
	if path == "" {
		return nil, nil //nolint:nilnil // no directory configured
	}

	static, err := directory.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}

	return directory.NewCached(static, ttl), nil
}
