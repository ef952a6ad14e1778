package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// SolverDirectory implements domain.SolverDirectory as a Redis set of
// checksummed addresses. It also satisfies auth.Authenticator, so the
// settlement contract can consult it directly.
type SolverDirectory struct {
	rdb *redis.Client
	key string
}

// NewSolverDirectory creates a directory stored under name.
func NewSolverDirectory(c *Client, name string) *SolverDirectory {
	if name == "" {
		name = "default"
	}
	return &SolverDirectory{rdb: c.Underlying(), key: keyPrefix + "solvers:" + name}
}

// IsSolver reports whether addr is in the directory.
func (d *SolverDirectory) IsSolver(ctx context.Context, addr common.Address) (bool, error) {
	ok, err := d.rdb.SIsMember(ctx, d.key, addr.Hex()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: solver lookup %s: %w", addr.Hex(), err)
	}
	return ok, nil
}

// Add puts addr in the directory.
func (d *SolverDirectory) Add(ctx context.Context, addr common.Address) error {
	if err := d.rdb.SAdd(ctx, d.key, addr.Hex()).Err(); err != nil {
		return fmt.Errorf("redis: add solver %s: %w", addr.Hex(), err)
	}
	return nil
}

// Remove takes addr out of the directory.
func (d *SolverDirectory) Remove(ctx context.Context, addr common.Address) error {
	if err := d.rdb.SRem(ctx, d.key, addr.Hex()).Err(); err != nil {
		return fmt.Errorf("redis: remove solver %s: %w", addr.Hex(), err)
	}
	return nil
}

// List returns every solver, sorted.
func (d *SolverDirectory) List(ctx context.Context) ([]common.Address, error) {
	members, err := d.rdb.SMembers(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list solvers: %w", err)
	}
	sort.Strings(members)
	out := make([]common.Address, 0, len(members))
	for _, m := range members {
		if !common.IsHexAddress(m) {
			continue
		}
		out = append(out, common.HexToAddress(m))
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SolverDirectory = (*SolverDirectory)(nil)
