package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/onboardflow/pkg/lock"
)

// NewLocker returns an in-process locker for an empty url and a Redis locker for redis:// urls.
func NewLocker(ctx context.Context, logger *slog.Logger, url string) (lock.Locker, error) {
	switch {
	case url == "":
		return lock.NewLocal(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return lock.NewRedisFromURL(ctx, logger, url)
	default:
		return nil, fmt.Errorf("unsupported lock url %q", url)
	}
}
