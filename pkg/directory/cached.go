package directory

import (
	"context"
	"slices"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/rules"
	c "github.com/patrickmn/go-cache"
)

// Source is a directory that also answers hierarchy questions.
type Source interface {
	rules.Directory
	rules.Hierarchy
}

// Cached memoizes successful lookups of a Source for a fixed TTL. Errors are never cached.
type Cached struct {
	source Source
	cache  *c.Cache
}

// NewCached wraps source with a TTL cache.
func NewCached(source Source, ttl time.Duration) *Cached {
	return &Cached{
		source: source,
		cache:  c.New(ttl, 2*ttl),
	}
}

func (ch *Cached) ManagerOf(ctx context.Context, userID string) (string, error) {
	key := "manager:" + userID
	if value, found := ch.cache.Get(key); found {
		return value.(string), nil
	}

	manager, err := ch.source.ManagerOf(ctx, userID)
	if err != nil {
		return "", err
	}

	ch.cache.SetDefault(key, manager)

	return manager, nil
}

func (ch *Cached) UserExists(ctx context.Context, userID string) (bool, error) {
	key := "user:" + userID
	if value, found := ch.cache.Get(key); found {
		return value.(bool), nil
	}

	exists, err := ch.source.UserExists(ctx, userID)
	if err != nil {
		return false, err
	}

	ch.cache.SetDefault(key, exists)

	return exists, nil
}

func (ch *Cached) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	key := "group:" + groupID
	if value, found := ch.cache.Get(key); found {
		return slices.Clone(value.([]string)), nil
	}

	members, err := ch.source.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ch.cache.SetDefault(key, slices.Clone(members))

	return members, nil
}

func (ch *Cached) IsAncestor(ctx context.Context, field models.OrgField, ancestorID, descendantID string) (bool, error) {
	key := "ancestor:" + string(field) + ":" + ancestorID + ":" + descendantID
	if value, found := ch.cache.Get(key); found {
		return value.(bool), nil
	}

	ok, err := ch.source.IsAncestor(ctx, field, ancestorID, descendantID)
	if err != nil {
		return false, err
	}

	ch.cache.SetDefault(key, ok)

	return ok, nil
}

// Flush drops every cached entry.
func (ch *Cached) Flush() {
	ch.cache.Flush()
}
