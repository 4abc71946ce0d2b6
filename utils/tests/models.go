package tests

import (
	"github.com/gorm-relativity/relativity"
	"github.com/gorm-relativity/relativity/predicate"
	"github.com/gorm-relativity/relativity/tree"
)

// Page a tree of pages keyed by dotted slugs, "Top.Science.Astronomy" descends from "Top.Science"
type Page struct {
	ID   uint
	Name string
	Slug string `gorm:"size:255;uniqueIndex"`

	relativity.Prefetch `gorm:"-"`
}

var (
	PageDescendants = tree.Descendants[Page](predicate.Q{
		"slug__startswith": predicate.L("slug"),
		"slug__ne":         predicate.L("slug"),
	})
	PageSubtree = tree.Subtree[Page](predicate.Q{"slug__startswith": predicate.L("slug")})
)

func (Page) Relationships() []relativity.Declaration {
	return []relativity.Declaration{PageDescendants, PageSubtree}
}

// MPPage materialized path tree, four characters per level
type MPPage struct {
	ID   uint
	Name string
	Slug string `gorm:"size:255;uniqueIndex"`
	Path string `gorm:"size:255;uniqueIndex"`

	relativity.Prefetch `gorm:"-"`
}

var (
	MPPageDescendants = tree.Descendants[MPPage](tree.MPDescendants("path"))
	MPPageSubtree     = tree.Subtree[MPPage](tree.MPSubtree("path"))
)

func (MPPage) Relationships() []relativity.Declaration {
	return []relativity.Declaration{MPPageDescendants, MPPageSubtree}
}

// NSPage nested set tree
type NSPage struct {
	ID     uint
	Name   string
	Slug   string `gorm:"size:255;uniqueIndex"`
	TreeID int
	Lft    int
	Rgt    int

	relativity.Prefetch `gorm:"-"`
}

var (
	NSPageDescendants = tree.Descendants[NSPage](tree.NSDescendants(tree.DefaultNestedSet))
	NSPageSubtree     = tree.Subtree[NSPage](tree.NSSubtree(tree.DefaultNestedSet))
)

func (NSPage) Relationships() []relativity.Declaration {
	return []relativity.Declaration{NSPageDescendants, NSPageSubtree}
}

// AdjPage adjacency list tree
type AdjPage struct {
	ID       uint
	Name     string
	Slug     string `gorm:"size:255;uniqueIndex"`
	ParentID *uint

	relativity.Prefetch `gorm:"-"`
}

var AdjPageChildren = tree.Children[AdjPage]("parent_id", "id")

func (AdjPage) Relationships() []relativity.Declaration {
	return []relativity.Declaration{AdjPageChildren}
}

type Product struct {
	ID     uint
	Sku    string `gorm:"size:13"`
	Colour string `gorm:"size:20"`
	Shape  string `gorm:"size:20"`
	Size   int

	relativity.Prefetch `gorm:"-"`
}

// CartItem refers to its product by sku
type CartItem struct {
	ID          uint
	ProductCode string `gorm:"size:13"`
	Description string

	relativity.Prefetch `gorm:"-"`
}

var CartItemProduct = relativity.New[CartItem, Product]("Product",
	predicate.Q{"sku": predicate.L("product_code")},
	relativity.RelatedName("CartItems"),
	relativity.Multiple(false),
)

func (CartItem) Relationships() []relativity.Declaration {
	return []relativity.Declaration{CartItemProduct}
}

type Category struct {
	ID   uint
	Code string `gorm:"size:255;uniqueIndex"`

	relativity.Prefetch `gorm:"-"`
}

// Categorised belongs to every category whose code appears in CategoryCodes
type Categorised struct {
	ID            uint
	CategoryCodes string

	relativity.Prefetch `gorm:"-"`
}

var CategoryMembers = relativity.New[Category, Categorised]("Members",
	predicate.Q{"category_codes__contains": predicate.L("code")},
	relativity.RelatedName("Categories"),
)

func (Category) Relationships() []relativity.Declaration {
	return []relativity.Declaration{CategoryMembers}
}

// ProductFilter matches products of a colour from a minimum size
type ProductFilter struct {
	ID      uint
	Fcolour string `gorm:"size:20"`
	Fsize   int

	relativity.Prefetch `gorm:"-"`
}

var ProductFilterProducts = relativity.New[ProductFilter, Product]("Products",
	predicate.Q{"colour": predicate.L("fcolour"), "size__gte": predicate.L("fsize")},
	relativity.RelatedName("Filters"),
)

func (ProductFilter) Relationships() []relativity.Declaration {
	return []relativity.Declaration{ProductFilterProducts}
}

type User struct {
	Username string `gorm:"primaryKey;size:255"`

	relativity.Prefetch `gorm:"-"`
}

type Chemical struct {
	ID           uint
	Formula      string
	ChemicalName string
	CommonName   string

	relativity.Prefetch `gorm:"-"`
}

// SavedFilter matches chemicals by formula
type SavedFilter struct {
	ID          uint
	Username    string `gorm:"size:255"`
	SearchRegex string

	relativity.Prefetch `gorm:"-"`
}

var SavedFilterChemicals = relativity.New[SavedFilter, Chemical]("Chemicals",
	predicate.Q{"formula__regex": predicate.L("search_regex")},
)

func (SavedFilter) Relationships() []relativity.Declaration {
	return []relativity.Declaration{SavedFilterChemicals}
}

// LinkedNode a doubly linked list through PrevID
type LinkedNode struct {
	ID     uint
	Name   string `gorm:"size:30"`
	PrevID *uint

	relativity.Prefetch `gorm:"-"`
}

var LinkedNodeNext = relativity.NewSelf[LinkedNode]("Next",
	predicate.Q{"prev_id": predicate.L("id")},
	relativity.RelatedName("Prev"),
	relativity.Multiple(false),
	relativity.ReverseMultiple(false),
)

func (LinkedNode) Relationships() []relativity.Declaration {
	return []relativity.Declaration{LinkedNodeNext}
}

// UserGenerator owns the user named "generated_for_<id>"
type UserGenerator struct {
	ID uint

	relativity.Prefetch `gorm:"-"`
}

var UserGeneratorUser = relativity.New[UserGenerator, User]("User",
	predicate.Q{"username": predicate.Concat("generated_for_", predicate.L("id"))},
	relativity.Multiple(false),
	relativity.ReverseMultiple(false),
)

func (UserGenerator) Relationships() []relativity.Declaration {
	return []relativity.Declaration{UserGeneratorUser}
}

// AllModels every fixture model, in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Page{}, &MPPage{}, &NSPage{}, &AdjPage{},
		&Product{}, &CartItem{}, &Category{}, &Categorised{}, &ProductFilter{},
		&User{}, &Chemical{}, &SavedFilter{}, &LinkedNode{}, &UserGenerator{},
	}
}
