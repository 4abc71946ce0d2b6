package relativity

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Prefetch caches prefetched relations of a model, embed it to use QuerySet.Prefetch:
//
//	type Page struct {
//		ID   uint
//		Path string
//		relativity.Prefetch `gorm:"-"`
//	}
type Prefetch struct {
	prefetched map[string]interface{}
}

func (p *Prefetch) relativityPrefetch() *Prefetch {
	return p
}

// Prefetched the cached value of the relation called name: a []T for multi valued relations,
// a *T, possibly nil, for single valued ones
func (p *Prefetch) Prefetched(name string) (interface{}, bool) {
	return p.get(name)
}

// ClearPrefetched forgets the cached relations called names, every relation when names is empty
func (p *Prefetch) ClearPrefetched(names ...string) {
	if len(names) == 0 {
		p.prefetched = nil
		return
	}
	for _, name := range names {
		delete(p.prefetched, name)
	}
}

func (p *Prefetch) get(name string) (interface{}, bool) {
	v, ok := p.prefetched[name]
	return v, ok
}

func (p *Prefetch) set(name string, v interface{}) {
	if p.prefetched == nil {
		p.prefetched = map[string]interface{}{}
	}
	p.prefetched[name] = v
}

type prefetchCarrier interface {
	relativityPrefetch() *Prefetch
}

func cacheOf(instance interface{}) *Prefetch {
	if carrier, ok := instance.(prefetchCarrier); ok {
		return carrier.relativityPrefetch()
	}
	return nil
}

type prefetcher interface {
	// prefetch caches the related rows of every instance and returns the number of rows fetched
	prefetch(ctx context.Context, db *gorm.DB, instances []interface{}) (int, error)
}

// descriptor the accessor of relation on S, installed when the relationship is registered
type descriptor[S, T any] struct {
	plugin   *Plugin
	relation Relation
}

func (d *descriptor[S, T]) prefetch(ctx context.Context, db *gorm.DB, instances []interface{}) (int, error) {
	for _, instance := range instances {
		if cacheOf(instance) == nil {
			return 0, fmt.Errorf("%w: %T", ErrPrefetchUnsupported, instance)
		}
	}

	m := newManager[T](db, d.plugin, d.relation, nil, nil)
	result, err := m.PrefetchQuerySet(ctx, instances)
	if err != nil {
		return 0, err
	}

	remote := d.relation.Remote()
	groups := map[string][]T{}
	for i := range result.Rows {
		key := result.RowKey(i)
		groups[key] = append(groups[key], result.Rows[i])
	}

	for _, instance := range instances {
		rows := groups[result.InstanceKey(instance)]
		if !remote.Multiple() {
			for i := range rows {
				if cache := cacheOf(&rows[i]); cache != nil {
					cache.set(remote.Name(), instance)
				}
			}
		}

		cache := cacheOf(instance)
		if result.Single {
			var one *T
			if len(rows) > 0 {
				one = &rows[0]
			}
			cache.set(result.CacheName, one)
		} else {
			cache.set(result.CacheName, append([]T{}, rows...))
		}
	}
	return len(result.Rows), nil
}

// PrefetchResult rows fetched for a batch of instances; RowKey and InstanceKey match rows with the
// instances they belong to
type PrefetchResult[T any] struct {
	Rows        []T
	RowKey      func(i int) string
	InstanceKey func(instance interface{}) string
	Single      bool
	CacheName   string
}
