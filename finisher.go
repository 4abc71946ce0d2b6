package relativity

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/gorm-relativity/relativity/logger"
)

// prefetchRow a row of T along with the key of the instance it was fetched for
type prefetchRow[T any] struct {
	Row T      `gorm:"embedded"`
	Key string `gorm:"column:relativity_prefetch_key"`
}

// Find runs the query and returns every row, prefetching the requested relations
func (qs *QuerySet[T]) Find(ctx context.Context) ([]T, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	if qs.cached {
		return append([]T(nil), qs.result...), nil
	}

	tx, err := qs.execute(ctx, nil)
	if err != nil {
		return nil, err
	}
	var rows []T
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	qs.seedKnown(rows)

	if len(qs.prefetch) > 0 && len(rows) > 0 {
		instances := make([]interface{}, len(rows))
		for i := range rows {
			instances[i] = &rows[i]
		}
		s, err := qs.schema()
		if err != nil {
			return nil, err
		}
		if err := qs.plugin.prefetchAll(ctx, qs.db, s, instances, qs.prefetch); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// First the first row ordered by primary key unless the query is ordered, gorm.ErrRecordNotFound
// when there is none
func (qs *QuerySet[T]) First(ctx context.Context) (*T, error) {
	if qs.err != nil {
		return nil, qs.err
	}
	q := qs
	if len(q.orders) == 0 && !q.cached {
		s, err := qs.schema()
		if err != nil {
			return nil, err
		}
		if s.PrioritizedPrimaryField != nil {
			q = q.Order(s.PrioritizedPrimaryField.DBName)
		}
	}
	if !q.cached {
		q = q.Limit(1)
	}

	rows, err := q.Find(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &rows[0], nil
}

// Get the only row, gorm.ErrRecordNotFound when there is none and ErrMultipleRecords when there
// are several
func (qs *QuerySet[T]) Get(ctx context.Context) (*T, error) {
	q := qs
	if !q.cached && (q.limit < 0 || q.limit > 2) {
		q = q.Limit(2)
	}
	rows, err := q.Find(ctx)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, gorm.ErrRecordNotFound
	case 1:
		return &rows[0], nil
	}
	return nil, fmt.Errorf("%w: %d rows", ErrMultipleRecords, len(rows))
}

// Count number of rows
func (qs *QuerySet[T]) Count(ctx context.Context) (int64, error) {
	if qs.err != nil {
		return 0, qs.err
	}
	if qs.cached {
		return int64(len(qs.result)), nil
	}

	s, err := qs.schema()
	if err != nil {
		return 0, err
	}
	stmt, err := qs.compile(ctx, s, qs.plugin.AliasPrefix, nil)
	if err != nil {
		return 0, err
	}
	stmt.orders = nil

	tx := qs.db.WithContext(ctx)
	sql, vars, err := newBuilder(tx).build(count{stmt: stmt})
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Raw(sql, vars...).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Exists whether any row matches
func (qs *QuerySet[T]) Exists(ctx context.Context) (bool, error) {
	q := qs
	if !q.cached {
		q = q.Limit(1)
	}
	n, err := q.Count(ctx)
	return n > 0, err
}

// Pluck scans a single column of every row into dest, a pointer to a slice
func (qs *QuerySet[T]) Pluck(ctx context.Context, column string, dest interface{}) error {
	if qs.err != nil {
		return qs.err
	}
	tx, err := qs.Select(column).execute(ctx, nil)
	if err != nil {
		return err
	}
	return tx.Scan(dest).Error
}

// prefetchRows runs the query selecting the key column along with every row
func (qs *QuerySet[T]) prefetchRows(ctx context.Context, key *keyColumn) ([]T, []string, error) {
	if qs.err != nil {
		return nil, nil, qs.err
	}
	tx, err := qs.execute(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	var scanned []prefetchRow[T]
	if err := tx.Scan(&scanned).Error; err != nil {
		return nil, nil, err
	}
	rows := make([]T, len(scanned))
	keys := make([]string, len(scanned))
	for i, row := range scanned {
		rows[i], keys[i] = row.Row, row.Key
	}
	return rows, keys, nil
}

// prefetchAll loads the relations called names for instances of s
func (p *Plugin) prefetchAll(ctx context.Context, db *gorm.DB, s *schema.Schema, instances []interface{}, names []string) error {
	for _, name := range names {
		e, ok := p.relation(s, name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownRelation, s.Name, name)
		}

		start := time.Now()
		rows, err := e.prefetcher.prefetch(ctx, db, instances)
		if err != nil {
			return err
		}
		p.log(ctx, logger.Event{
			Kind:      logger.EventPrefetch,
			Relation:  e.relation.String(),
			Model:     s.Name,
			Target:    e.relation.To().Name,
			Instances: len(instances),
			Rows:      rows,
			Elapsed:   time.Since(start),
		})
	}
	return nil
}
