package relativity

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm"

	"github.com/gorm-relativity/relativity/logger"
	"github.com/gorm-relativity/relativity/utils"
)

// Base provides the QuerySet a manager filters
type Base[T any] interface {
	QuerySet(db *gorm.DB) *QuerySet[T]
}

// BaseFunc adapts a function to Base
type BaseFunc[T any] func(db *gorm.DB) *QuerySet[T]

func (f BaseFunc[T]) QuerySet(db *gorm.DB) *QuerySet[T] {
	return f(db)
}

type defaultBase[T any] struct{}

func (defaultBase[T]) QuerySet(db *gorm.DB) *QuerySet[T] {
	return Query[T](db)
}

// Manager the rows related to one instance through a multi valued relation.
// Relations defined by predicates are read only, mutations return ErrUnsupportedOperation.
type Manager[T any] struct {
	db       *gorm.DB
	plugin   *Plugin
	relation Relation
	instance interface{}
	base     Base[T]
	Error    error
}

func newManager[T any](db *gorm.DB, p *Plugin, relation Relation, instance interface{}, err error) *Manager[T] {
	if err == nil && relation != nil && instance != nil {
		err = checkInstance(relation, instance)
	}
	return &Manager[T]{db: db, plugin: p, relation: relation, instance: instance, base: defaultBase[T]{}, Error: err}
}

func checkInstance(relation Relation, instance interface{}) error {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != relation.From().ModelType {
		return fmt.Errorf("%w: %s expects *%s, got %T", ErrUnknownRelation, relation, relation.From().Name, instance)
	}
	return nil
}

// Relation the relation the manager follows
func (m *Manager[T]) Relation() Relation {
	return m.relation
}

// Using returns a manager over base instead of Query[T]
func (m *Manager[T]) Using(base Base[T]) *Manager[T] {
	c := *m
	c.base = base
	return &c
}

// QuerySet the related rows. When the relation was prefetched the QuerySet serves the cached rows
// until it is chained, chained QuerySets query the related rows again.
func (m *Manager[T]) QuerySet() *QuerySet[T] {
	return m.querySet(contextOf(m.db))
}

func (m *Manager[T]) querySet(ctx context.Context) *QuerySet[T] {
	if m.Error != nil {
		return Query[T](m.db).AddError(m.Error)
	}

	remote := m.relation.Remote()
	filter, fast, err := remote.forwardRelatedFilter(ctx, m.instance)
	if err != nil {
		return Query[T](m.db).AddError(err)
	}

	qs := m.base.QuerySet(m.db).Where(filter)
	if !remote.Multiple() {
		qs = qs.withKnown(remote.Name(), m.instance)
	}

	if rows, ok := m.prefetched(); ok {
		qs.result, qs.cached = rows, true
		return qs
	}

	kind := logger.EventSlowPath
	if fast {
		kind = logger.EventFastPath
	}
	m.plugin.log(ctx, logger.Event{
		Kind:     kind,
		Relation: m.relation.String(),
		Model:    m.relation.From().Name,
		Target:   m.relation.To().Name,
	})
	return qs
}

func (m *Manager[T]) prefetched() ([]T, bool) {
	if cache := cacheOf(m.instance); cache != nil {
		if v, ok := cache.get(m.relation.Name()); ok {
			rows, ok := v.([]T)
			return rows, ok
		}
	}
	return nil, false
}

// Filter shorthand of QuerySet().Filter
func (m *Manager[T]) Filter(key string, value interface{}) *QuerySet[T] {
	return m.QuerySet().Filter(key, value)
}

// Where shorthand of QuerySet().Where
func (m *Manager[T]) Where(filter Filter) *QuerySet[T] {
	return m.QuerySet().Where(filter)
}

// Exclude shorthand of QuerySet().Exclude
func (m *Manager[T]) Exclude(key string, value interface{}) *QuerySet[T] {
	return m.QuerySet().Exclude(key, value)
}

// Order shorthand of QuerySet().Order
func (m *Manager[T]) Order(columns ...string) *QuerySet[T] {
	return m.QuerySet().Order(columns...)
}

func (m *Manager[T]) Find(ctx context.Context) ([]T, error) {
	return m.querySet(ctx).Find(ctx)
}

func (m *Manager[T]) First(ctx context.Context) (*T, error) {
	return m.querySet(ctx).First(ctx)
}

func (m *Manager[T]) Count(ctx context.Context) (int64, error) {
	return m.querySet(ctx).Count(ctx)
}

func (m *Manager[T]) Exists(ctx context.Context) (bool, error) {
	return m.querySet(ctx).Exists(ctx)
}

// PrefetchQuerySet fetches the related rows of instances, one query per PrefetchBatchSize instances
func (m *Manager[T]) PrefetchQuerySet(ctx context.Context, instances []interface{}) (*PrefetchResult[T], error) {
	if m.Error != nil {
		return nil, m.Error
	}

	source := m.relation.From()
	pk := source.PrioritizedPrimaryField
	if pk == nil {
		return nil, fmt.Errorf("%w: %s", gorm.ErrPrimaryKeyRequired, source.Name)
	}
	instanceKey := func(instance interface{}) string {
		rv := reflect.Indirect(reflect.ValueOf(instance))
		if !rv.IsValid() || rv.Type() != source.ModelType {
			return ""
		}
		value, _ := pk.ValueOf(ctx, rv)
		return utils.ToStringKey(value)
	}

	result := &PrefetchResult[T]{
		InstanceKey: instanceKey,
		Single:      !m.relation.Multiple(),
		CacheName:   m.relation.Name(),
	}
	var keys []string

	remote := m.relation.Remote()
	size := m.plugin.PrefetchBatchSize
	if size <= 0 {
		size = len(instances)
	}
	for start := 0; start < len(instances); start += size {
		end := start + size
		if end > len(instances) {
			end = len(instances)
		}

		values := make([]interface{}, 0, end-start)
		for _, instance := range instances[start:end] {
			if err := checkInstance(m.relation, instance); err != nil {
				return nil, err
			}
			value, _ := pk.ValueOf(ctx, reflect.ValueOf(instance).Elem())
			values = append(values, value)
		}

		qs := m.base.QuerySet(m.db).Where(Filter{remote.QueryName() + "__in": values})
		rows, rowKeys, err := qs.prefetchRows(ctx, &keyColumn{table: source.Table, column: pk.DBName})
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, rows...)
		keys = append(keys, rowKeys...)
	}

	result.RowKey = func(i int) string { return keys[i] }
	return result, nil
}

func (m *Manager[T]) unsupported(op string) error {
	if m.Error != nil {
		return m.Error
	}
	return fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, m.relation)
}

func (m *Manager[T]) Add(ctx context.Context, objs ...*T) error {
	return m.unsupported("add")
}

func (m *Manager[T]) Remove(ctx context.Context, objs ...*T) error {
	return m.unsupported("remove")
}

func (m *Manager[T]) Create(ctx context.Context, obj *T) error {
	return m.unsupported("create")
}

func (m *Manager[T]) GetOrCreate(ctx context.Context, filter Filter) (*T, bool, error) {
	return nil, false, m.unsupported("get or create")
}

func (m *Manager[T]) UpdateOrCreate(ctx context.Context, filter Filter, values map[string]interface{}) (*T, bool, error) {
	return nil, false, m.unsupported("update or create")
}

func (m *Manager[T]) Set(ctx context.Context, objs []*T) error {
	return m.unsupported("set")
}

func (m *Manager[T]) Clear(ctx context.Context) error {
	return m.unsupported("clear")
}

// Single the row related to one instance through a single valued relation
type Single[T any] struct {
	manager *Manager[T]
}

func newSingle[T any](db *gorm.DB, p *Plugin, relation Relation, instance interface{}, err error) *Single[T] {
	return &Single[T]{manager: newManager[T](db, p, relation, instance, err)}
}

// Using returns an accessor over base instead of Query[T]
func (s *Single[T]) Using(base Base[T]) *Single[T] {
	return &Single[T]{manager: s.manager.Using(base)}
}

// Get the related row, queried on every call unless the relation was prefetched. When nothing
// matches Get fails with gorm.ErrRecordNotFound, relations declared Nullable return nil.
func (s *Single[T]) Get(ctx context.Context) (*T, error) {
	m := s.manager
	if m.Error != nil {
		return nil, m.Error
	}

	if cache := cacheOf(m.instance); cache != nil {
		if v, ok := cache.get(m.relation.Name()); ok {
			if row, ok := v.(*T); ok {
				if row == nil && m.relation.NotNull() {
					return nil, fmt.Errorf("%w: %s", gorm.ErrRecordNotFound, m.relation)
				}
				return row, nil
			}
		}
	}

	rows, err := m.querySet(ctx).Limit(2).Find(ctx)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		if m.relation.NotNull() {
			return nil, fmt.Errorf("%w: %s", gorm.ErrRecordNotFound, m.relation)
		}
		return nil, nil
	case 1:
		return &rows[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMultipleRecords, m.relation)
}

// QuerySet the query Get runs
func (s *Single[T]) QuerySet() *QuerySet[T] {
	return s.manager.QuerySet()
}

func contextOf(db *gorm.DB) context.Context {
	if db != nil && db.Statement != nil && db.Statement.Context != nil {
		return db.Statement.Context
	}
	return context.Background()
}
