package relativity_test

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gorm-relativity/relativity"
	"github.com/gorm-relativity/relativity/predicate"
	. "github.com/gorm-relativity/relativity/utils/tests"
)

func categorisedIDs(rows []Categorised) []uint {
	return IDs(rows, func(c Categorised) uint { return c.ID })
}

func categoryCodes(rows []Category) []string {
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row.Code)
	}
	sort.Strings(codes)
	return codes
}

func productIDs(rows []Product) []uint {
	return IDs(rows, func(p Product) uint { return p.ID })
}

func cartItemIDs(rows []CartItem) []uint {
	return IDs(rows, func(c CartItem) uint { return c.ID })
}

func categoryByCode(t *testing.T, db *gorm.DB, code string) *Category {
	t.Helper()
	var category Category
	require.NoError(t, db.Where("code = ?", code).First(&category).Error)
	return &category
}

func TestManyToManyAccessor(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	members, err := CategoryMembers.Forward(db, categoryByCode(t, db, "AAA")).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, categorisedIDs(members))

	var four Categorised
	require.NoError(t, db.First(&four, 4).Error)
	categories, err := CategoryMembers.Reverse(db, &four).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB", "CCC"}, categoryCodes(categories))
}

func TestManyToManyFilter(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	categories, err := relativity.Query[Category](db).Filter("members__id__in", []int{4, 6}).Distinct().Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB", "CCC"}, categoryCodes(categories))

	categories, err = relativity.Query[Category](db).Exclude("members__id__in", []int{4, 6}).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, categoryCodes(categories))

	members, err := relativity.Query[Categorised](db).Filter("categories__id__in", []int{1, 3}).Distinct().Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3, 4, 6}, categorisedIDs(members))
}

func TestManyToManyPrefetch(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()
	counter := CountQueries(db)

	t.Run("reverse", func(t *testing.T) {
		counter.Reset()
		members, err := relativity.Query[Categorised](db).Filter("id__lte", 4).Prefetch("categories").Order("id").Find(ctx)
		require.NoError(t, err)

		prefetched := map[uint][]string{}
		for i := range members {
			categories, err := CategoryMembers.Reverse(db, &members[i]).Find(ctx)
			require.NoError(t, err)
			prefetched[members[i].ID] = categoryCodes(categories)
		}
		assert.Equal(t, 2, counter.Count())
		assert.Equal(t, map[uint][]string{
			1: {"AAA"},
			2: {"BBB"},
			3: {"AAA", "CCC"},
			4: {"BBB", "CCC"},
		}, prefetched)
	})

	t.Run("forward", func(t *testing.T) {
		counter.Reset()
		categories, err := relativity.Query[Category](db).Filter("code__in", []string{"AAA", "BBB"}).Prefetch("Members").Order("id").Find(ctx)
		require.NoError(t, err)

		prefetched := map[string][]uint{}
		for i := range categories {
			members, err := CategoryMembers.Forward(db, &categories[i]).Find(ctx)
			require.NoError(t, err)
			ids := categorisedIDs(members)
			sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
			prefetched[categories[i].Code] = ids
		}
		assert.Equal(t, 2, counter.Count())
		assert.Equal(t, map[string][]uint{"AAA": {1, 3}, "BBB": {2, 4, 5}}, prefetched)
	})

	t.Run("batches", func(t *testing.T) {
		batched := OpenTestDB(t, relativity.Config{PrefetchBatchSize: 2})
		counter := CountQueries(batched)

		members, err := relativity.Query[Categorised](batched).Prefetch("Categories").Order("id").Find(ctx)
		require.NoError(t, err)
		require.Len(t, members, 6)
		// one query for the members and one for every two of them
		assert.Equal(t, 4, counter.Count())

		categories, err := CategoryMembers.Reverse(batched, &members[5]).Find(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CCC"}, categoryCodes(categories))
	})
}

type slugged interface {
	Page | MPPage | NSPage
}

func slugOf[M slugged](m M) string {
	switch m := any(m).(type) {
	case Page:
		return m.Slug
	case MPPage:
		return m.Slug
	case NSPage:
		return m.Slug
	}
	return ""
}

func slugsOf[M slugged](t *testing.T) func([]M, error) []string {
	return func(rows []M, err error) []string {
		require.NoError(t, err)
		return SortedSlugs(rows, slugOf[M])
	}
}

func testRecursive[M slugged](t *testing.T, db *gorm.DB, counter *QueryCounter, descendants, subtree *relativity.Relationship[M, M]) {
	ctx := context.Background()

	var page M
	require.NoError(t, db.Where("slug = ?", "Top.Science.Astronomy").First(&page).Error)

	t.Run("accessor forward", func(t *testing.T) {
		slugs := slugsOf[M](t)
		assert.Equal(t, []string{
			"Top.Science.Astronomy.Astrophysics",
			"Top.Science.Astronomy.Cosmology",
		}, slugs(descendants.Forward(db, &page).Find(ctx)))
	})

	t.Run("accessor reverse", func(t *testing.T) {
		slugs := slugsOf[M](t)
		assert.Equal(t, []string{"Top", "Top.Science", "Top.Science.Astronomy"}, slugs(subtree.Reverse(db, &page).Find(ctx)))
		assert.Equal(t, []string{"Top", "Top.Science"}, slugs(descendants.Reverse(db, &page).Find(ctx)))
	})

	t.Run("filter forward", func(t *testing.T) {
		slugs := slugsOf[M](t)
		assert.Equal(t, []string{
			"Top",
			"Top.Collections",
			"Top.Collections.Pictures",
			"Top.Collections.Pictures.Astronomy",
			"Top.Collections.Pictures.Astronomy.Stars",
		}, slugs(relativity.Query[M](db).Filter("subtree__slug__contains", "Stars").Distinct().Find(ctx)))
	})

	t.Run("filter reverse", func(t *testing.T) {
		slugs := slugsOf[M](t)
		assert.Equal(t, []string{
			"Top.Collections.Pictures.Astronomy.Astronauts",
			"Top.Collections.Pictures.Astronomy.Galaxies",
			"Top.Collections.Pictures.Astronomy.Stars",
			"Top.Science.Astronomy.Astrophysics",
			"Top.Science.Astronomy.Cosmology",
		}, slugs(relativity.Query[M](db).Filter("ascendants__slug__contains", "Astronomy").Distinct().Find(ctx)))
	})

	t.Run("prefetch forward", func(t *testing.T) {
		slugs := slugsOf[M](t)
		counter.Reset()
		pages, err := relativity.Query[M](db).Filter("slug__startswith", "Top.Science").Prefetch("Descendants").Find(ctx)
		require.NoError(t, err)
		require.Len(t, pages, 4)

		prefetched := make([][]string, len(pages))
		for i := range pages {
			prefetched[i] = slugs(descendants.Forward(db, &pages[i]).Find(ctx))
		}
		assert.Equal(t, 2, counter.Count())

		for i := range pages {
			assert.Equal(t, slugs(relativity.Query[M](db).Filter("ascendants", &pages[i]).Find(ctx)), prefetched[i])
		}
	})

	t.Run("prefetch reverse", func(t *testing.T) {
		slugs := slugsOf[M](t)
		counter.Reset()
		pages, err := relativity.Query[M](db).Filter("slug__startswith", "Top.Science").Prefetch("Rootpath").Find(ctx)
		require.NoError(t, err)

		prefetched := make([][]string, len(pages))
		for i := range pages {
			prefetched[i] = slugs(subtree.Reverse(db, &pages[i]).Find(ctx))
		}
		assert.Equal(t, 2, counter.Count())

		for i := range pages {
			assert.Equal(t, slugs(relativity.Query[M](db).Filter("subtree", &pages[i]).Find(ctx)), prefetched[i])
		}
	})
}

func TestRecursive(t *testing.T) {
	db := OpenTestDB(t)
	counter := CountQueries(db)

	t.Run("slug", func(t *testing.T) {
		testRecursive(t, db, counter, PageDescendants, PageSubtree)
	})
	t.Run("materialized path", func(t *testing.T) {
		testRecursive(t, db, counter, MPPageDescendants, MPPageSubtree)
	})
	t.Run("nested set", func(t *testing.T) {
		testRecursive(t, db, counter, NSPageDescendants, NSPageSubtree)
	})
}

func TestAdjacencyList(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	var top, science AdjPage
	require.NoError(t, db.Where("slug = ?", "Top").First(&top).Error)
	require.NoError(t, db.Where("slug = ?", "Top.Science").First(&science).Error)

	children, err := AdjPageChildren.Forward(db, &top).Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Top.Collections", "Top.Hobbies", "Top.Science"},
		SortedSlugs(children, func(p AdjPage) string { return p.Slug }))

	parent, err := AdjPageChildren.ReverseOne(db, &science).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, top.ID, parent.ID)

	// the root has no parent
	_, err = AdjPageChildren.ReverseOne(db, &top).Get(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	parents, err := relativity.Query[AdjPage](db).Filter("children__slug__startswith", "Top.Science.").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Top.Science", "Top.Science.Astronomy", "Top.Science.Astronomy"},
		SortedSlugs(parents, func(p AdjPage) string { return p.Slug }))
}

func TestManyToOneAccessor(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	var item CartItem
	require.NoError(t, db.First(&item, 1).Error)
	product, err := CartItemProduct.ForwardOne(db, &item).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), product.ID)
	assert.Equal(t, item.ProductCode, product.Sku)

	items, err := CartItemProduct.Reverse(db, product).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, cartItemIDs(items))
}

func TestManyToOneFilter(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	products, err := relativity.Query[Product](db).Filter("cart_items__description", "red circle").Distinct().Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, productIDs(products))

	items, err := relativity.Query[CartItem](db).Where(relativity.Filter{
		"product__colour": "red",
		"product__shape":  "circle",
	}).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, cartItemIDs(items))
}

func TestManyToOnePrefetch(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()
	counter := CountQueries(db)

	t.Run("reverse", func(t *testing.T) {
		counter.Reset()
		products, err := relativity.Query[Product](db).Filter("colour", "red").Prefetch("CartItems").Order("id").Find(ctx)
		require.NoError(t, err)
		require.Equal(t, []uint{1, 5, 9}, productIDs(products))

		var seen int
		for i := range products {
			items, err := CartItemProduct.Reverse(db, &products[i]).Find(ctx)
			require.NoError(t, err)
			for j := range items {
				product, err := CartItemProduct.ForwardOne(db, &items[j]).Get(ctx)
				require.NoError(t, err)
				assert.Same(t, &products[i], product)
				seen++
			}
		}
		assert.Equal(t, 2, seen)
		assert.Equal(t, 2, counter.Count())
	})

	t.Run("forward", func(t *testing.T) {
		counter.Reset()
		items, err := relativity.Query[CartItem](db).Prefetch("Product").Order("id").Find(ctx)
		require.NoError(t, err)

		skus := make([]string, 0, len(items))
		for i := range items {
			product, err := CartItemProduct.ForwardOne(db, &items[i]).Get(ctx)
			require.NoError(t, err)
			skus = append(skus, product.Sku)
		}
		assert.Equal(t, []string{"11", "22", "11"}, skus)
		assert.Equal(t, 2, counter.Count())

		cached, ok := items[0].Prefetched("Product")
		require.True(t, ok)
		assert.IsType(t, &Product{}, cached)

		items[0].ClearPrefetched()
		_, ok = items[0].Prefetched("Product")
		assert.False(t, ok)
	})

	t.Run("known related", func(t *testing.T) {
		var product Product
		require.NoError(t, db.First(&product, 1).Error)

		counter.Reset()
		items, err := CartItemProduct.Reverse(db, &product).Find(ctx)
		require.NoError(t, err)
		for i := range items {
			got, err := CartItemProduct.ForwardOne(db, &items[i]).Get(ctx)
			require.NoError(t, err)
			assert.Same(t, &product, got)
		}
		assert.Equal(t, 1, counter.Count())
	})

	t.Run("unknown relation", func(t *testing.T) {
		_, err := relativity.Query[Category](db).Prefetch("nope").Find(ctx)
		assert.ErrorIs(t, err, relativity.ErrUnknownRelation)
	})
}

func TestMultiHop(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	filter := ProductFilter{Fcolour: "red", Fsize: 3}
	require.NoError(t, db.Create(&filter).Error)

	skus := relativity.Query[Product](db).Where(relativity.Filter{"colour": "red", "size__gte": 3}).Select("sku")
	items, err := relativity.Query[CartItem](db).Filter("product_code__in", skus).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, cartItemIDs(items))

	viaFilter, err := relativity.Query[CartItem](db).Filter("product__filters", &filter).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, cartItemIDs(items), cartItemIDs(viaFilter))

	filters, err := relativity.Query[ProductFilter](db).Filter("products__cart_items__in", items).Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{filter.ID, filter.ID}, IDs(filters, func(f ProductFilter) uint { return f.ID }))

	products, err := ProductFilterProducts.Forward(db, &filter).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 5}, productIDs(products))

	var small Product
	require.NoError(t, db.First(&small, 9).Error)
	n, err := ProductFilterProducts.Reverse(db, &small).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegexRelation(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	saved := SavedFilter{Username: "chemist", SearchRegex: "^C"}
	require.NoError(t, db.Create(&saved).Error)

	chemicals, err := SavedFilterChemicals.Forward(db, &saved).Order("id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 4}, IDs(chemicals, func(c Chemical) uint { return c.ID }))

	var methane Chemical
	require.NoError(t, db.First(&methane, 4).Error)
	filters, err := SavedFilterChemicals.Reverse(db, &methane).Find(ctx)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, saved.ID, filters[0].ID)

	var water Chemical
	require.NoError(t, db.First(&water, 1).Error)
	exists, err := SavedFilterChemicals.Reverse(db, &water).Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSingleReverse(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	first := LinkedNode{Name: "first node"}
	require.NoError(t, db.Create(&first).Error)
	next := LinkedNode{Name: "next node", PrevID: &first.ID}
	require.NoError(t, db.Create(&next).Error)
	last := LinkedNode{Name: "last node", PrevID: &next.ID}
	require.NoError(t, db.Create(&last).Error)

	prev, err := LinkedNodeNext.ReverseOne(db, &last).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, next.ID, prev.ID)

	got, err := LinkedNodeNext.ForwardOne(db, &first).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, next.ID, got.ID)

	_, err = LinkedNodeNext.ForwardOne(db, &last).Get(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = LinkedNodeNext.ReverseOne(db, &first).Get(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	t.Run("nullable", func(t *testing.T) {
		following := relativity.NewSelf[LinkedNode]("Following",
			predicate.Q{"prev_id": predicate.L("id")},
			relativity.RelatedName("Preceding"),
			relativity.Multiple(false),
			relativity.ReverseMultiple(false),
			relativity.Nullable(),
			relativity.ReverseNullable(),
		)
		require.NoError(t, relativity.Register(db, following))

		got, err := following.ForwardOne(db, &last).Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = following.ReverseOne(db, &first).Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = following.ForwardOne(db, &first).Get(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, next.ID, got.ID)
	})

	t.Run("only one side nullable", func(t *testing.T) {
		following := relativity.NewSelf[LinkedNode]("Successor",
			predicate.Q{"prev_id": predicate.L("id")},
			relativity.RelatedName("Predecessor"),
			relativity.Multiple(false),
			relativity.ReverseMultiple(false),
			relativity.Nullable(),
		)
		require.NoError(t, relativity.Register(db, following))

		got, err := following.ForwardOne(db, &last).Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		_, err = following.ReverseOne(db, &first).Get(ctx)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestNotNullable(t *testing.T) {
	db := OpenTestDB(t)

	item := CartItem{ID: 4, ProductCode: "nonexistent", Description: "cart item for a nonexistent product"}
	require.NoError(t, db.Create(&item).Error)

	_, err := CartItemProduct.ForwardOne(db, &item).Get(context.Background())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPrefetchedManagerChains(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	categories, err := relativity.Query[Category](db).Filter("code", "AAA").Prefetch("Members").Find(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	members := CategoryMembers.Forward(db, &categories[0])
	require.True(t, members.QuerySet().Cached())

	counter := CountQueries(db)
	counter.Reset()
	all, err := members.Find(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 3}, categorisedIDs(all))
	assert.Zero(t, counter.Count())

	// chaining queries again, still through the relation
	filtered, err := members.Filter("id__gte", 1).Order("-id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 1}, categorisedIDs(filtered))
	assert.Equal(t, 1, counter.Count())

	plain, err := CategoryMembers.Forward(db, categoryByCode(t, db, "AAA")).Filter("id__gte", 1).Order("-id").Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, categorisedIDs(plain), categorisedIDs(filtered))

	rest, err := members.Exclude("id", 1).Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{3}, categorisedIDs(rest))

	n, err := members.Filter("id__lte", 3).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestComplexExpression(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	generator := UserGenerator{ID: 7}
	require.NoError(t, db.Create(&generator).Error)
	user := User{Username: fmt.Sprintf("generated_for_%d", generator.ID)}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&User{Username: "someone else"}).Error)

	got, err := UserGeneratorUser.ForwardOne(db, &generator).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "generated_for_7", got.Username)

	owner, err := UserGeneratorUser.ReverseOne(db, &user).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, generator.ID, owner.ID)
}

func TestDescriptorNotCached(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()

	item, err := relativity.Query[CartItem](db).First(ctx)
	require.NoError(t, err)
	product, err := CartItemProduct.ForwardOne(db, item).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, product)

	require.NoError(t, db.Delete(&Product{}, product.ID).Error)
	_, err = CartItemProduct.ForwardOne(db, item).Get(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUnsupportedOperations(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()
	members := CategoryMembers.Forward(db, categoryByCode(t, db, "AAA"))

	assert.ErrorIs(t, members.Add(ctx, &Categorised{}), relativity.ErrUnsupportedOperation)
	assert.ErrorIs(t, members.Remove(ctx, &Categorised{}), relativity.ErrUnsupportedOperation)
	assert.ErrorIs(t, members.Create(ctx, &Categorised{}), relativity.ErrUnsupportedOperation)
	assert.ErrorIs(t, members.Set(ctx, nil), relativity.ErrUnsupportedOperation)
	assert.ErrorIs(t, members.Clear(ctx), relativity.ErrUnsupportedOperation)
	_, _, err := members.GetOrCreate(ctx, relativity.Filter{"id": 1})
	assert.ErrorIs(t, err, relativity.ErrUnsupportedOperation)
	_, _, err = members.UpdateOrCreate(ctx, relativity.Filter{"id": 1}, nil)
	assert.ErrorIs(t, err, relativity.ErrUnsupportedOperation)

	n, err := relativity.Query[Categorised](db).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestAccessors(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()
	aaa := categoryByCode(t, db, "AAA")

	var item CartItem
	require.NoError(t, db.First(&item, 2).Error)

	t.Run("multiplicity", func(t *testing.T) {
		_, err := CartItemProduct.Forward(db, &item).Find(ctx)
		assert.ErrorIs(t, err, relativity.ErrMultiplicity)
		_, err = CategoryMembers.ForwardOne(db, aaa).Get(ctx)
		assert.ErrorIs(t, err, relativity.ErrMultiplicity)
		_, err = relativity.RelatedOne[Categorised](db, aaa, "Members").Get(ctx)
		assert.ErrorIs(t, err, relativity.ErrMultiplicity)
	})

	t.Run("by name", func(t *testing.T) {
		members, err := relativity.Related[Categorised](db, aaa, "members").Order("id").Find(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint{1, 3}, categorisedIDs(members))

		product, err := relativity.RelatedOne[Product](db, &item, "Product").Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "22", product.Sku)

		_, err = relativity.Related[Product](db, aaa, "Members").Find(ctx)
		assert.ErrorIs(t, err, relativity.ErrUnknownRelation)
		_, err = relativity.Related[Categorised](db, aaa, "nope").Find(ctx)
		assert.ErrorIs(t, err, relativity.ErrUnknownRelation)
	})

	t.Run("wrong instance", func(t *testing.T) {
		_, err := CategoryMembers.Forward(db, nil).Find(ctx)
		assert.ErrorIs(t, err, relativity.ErrUnknownRelation)
	})

	t.Run("using", func(t *testing.T) {
		base := relativity.BaseFunc[Categorised](func(db *gorm.DB) *relativity.QuerySet[Categorised] {
			return relativity.Query[Categorised](db).Exclude("category_codes__contains", "DDD")
		})
		members, err := CategoryMembers.Forward(db, categoryByCode(t, db, "BBB")).Using(base).Order("id").Find(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint{4, 5}, categorisedIDs(members))
	})

	t.Run("manager", func(t *testing.T) {
		members := CategoryMembers.Forward(db, aaa)
		assert.Equal(t, "Category.Members", members.Relation().String())

		n, err := members.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		ok, err := members.Exists(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		first, err := members.First(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint(1), first.ID)

		rest, err := members.Exclude("id", 1).Find(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint{3}, categorisedIDs(rest))
	})
}

func TestQuerySetFinishers(t *testing.T) {
	db := OpenTestDB(t)
	ctx := context.Background()
	red := relativity.Query[Product](db).Filter("colour", "red")

	n, err := red.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ok, err := relativity.Query[Product](db).Filter("colour", "purple").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := red.Order("-size").First(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.ID)

	_, err = red.Get(ctx)
	assert.ErrorIs(t, err, relativity.ErrMultipleRecords)
	_, err = relativity.Query[Product](db).Filter("colour", "purple").Get(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = relativity.Query[Product](db).Filter("colour", "purple").First(ctx)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	got, err := relativity.Query[Product](db).Filter("sku", "22").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), got.ID)

	var skus []string
	require.NoError(t, red.Order("id").Pluck(ctx, "sku", &skus))
	assert.Equal(t, []string{"11", "55", "99"}, skus)

	page, err := relativity.Query[Product](db).Order("id").Offset(7).Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{8, 9}, productIDs(page))

	page, err = relativity.Query[Product](db).Order("id").Limit(2).Offset(1).Find(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{2, 3}, productIDs(page))
}
