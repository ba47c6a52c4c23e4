// Package identity resolves approver ids to their role sets for step
// authorization.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/quotient-erp/quotient/internal/platform/db"
)

// RoleProvider resolves the role set of a user.
type RoleProvider interface {
	RolesFor(ctx context.Context, userID int64) ([]string, error)
}

// PGProvider reads role assignments from the user_roles table.
type PGProvider struct {
	pool *pgxpool.Pool
}

// NewPGProvider constructs a PGProvider.
func NewPGProvider(pool *pgxpool.Pool) *PGProvider {
	return &PGProvider{pool: pool}
}

// RolesFor returns the role names assigned to userID, ordered by name.
func (p *PGProvider) RolesFor(ctx context.Context, userID int64) ([]string, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx,
		`SELECT r.name FROM user_roles ur JOIN roles r ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: query roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// CachedProvider wraps a RoleProvider with a redis cache. Concurrent lookups
// for the same user collapse into a single upstream call.
type CachedProvider struct {
	next   RoleProvider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedProvider constructs a CachedProvider with the given TTL.
func NewCachedProvider(next RoleProvider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{next: next, client: client, ttl: ttl, logger: logger}
}

func roleCacheKey(userID int64) string {
	return fmt.Sprintf("identity:roles:%d", userID)
}

// RolesFor returns the cached role set, falling back to the wrapped provider
// on miss. Cache failures degrade to direct lookups rather than erroring.
func (p *CachedProvider) RolesFor(ctx context.Context, userID int64) ([]string, error) {
	key := roleCacheKey(userID)
	if data, err := p.client.Get(ctx, key).Bytes(); err == nil {
		var roles []string
		if err := json.Unmarshal(data, &roles); err == nil {
			return roles, nil
		}
	} else if err != redis.Nil {
		p.logger.Warn("role cache read failed", slog.Any("error", err))
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		roles, err := p.next.RolesFor(ctx, userID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(roles); err == nil {
			if err := p.client.Set(ctx, key, data, p.ttl).Err(); err != nil {
				p.logger.Warn("role cache write failed", slog.Any("error", err))
			}
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate drops the cached role set for userID, typically after a role
// assignment change.
func (p *CachedProvider) Invalidate(ctx context.Context, userID int64) error {
	return p.client.Del(ctx, roleCacheKey(userID)).Err()
}
