package cache

import (
	"context"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
)

// Noop is a cache that stores nothing. It stands in for an unreachable or
// disabled store.
type Noop struct{}

// Ensure Noop implements Cache at compile time.
var _ Cache = Noop{}

func (Noop) Get(context.Context, string) (*api.CachedAnswer, error) { return nil, nil }

func (Noop) Set(context.Context, string, *api.CachedAnswer, time.Duration) error { return nil }

func (Noop) Clear(context.Context) (int, error) { return 0, nil }

// Available always reports false.
func (Noop) Available() bool { return false }

func (Noop) Close() error { return nil }
