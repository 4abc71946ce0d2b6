package tests

import (
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gorm-relativity/relativity"
	"github.com/gorm-relativity/relativity/logger"
	"github.com/gorm-relativity/relativity/migrator"
	"github.com/gorm-relativity/relativity/utils"
)

// DriverName sqlite3 driver with a REGEXP function
const DriverName = "sqlite3_relativity"

var (
	registerDriver sync.Once
	databases      int64
)

func register() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", func(pattern, value string) (bool, error) {
				return regexp.MatchString(pattern, value)
			}, true)
		},
	})
}

// OpenTestConnection opens a private in memory sqlite database with the relativity plugin installed.
// DEBUG=true logs every statement.
func OpenTestConnection(config relativity.Config) (*gorm.DB, error) {
	registerDriver.Do(register)

	dsn := fmt.Sprintf("file:relativity_%d?mode=memory&cache=shared", atomic.AddInt64(&databases, 1))
	db, err := gorm.Open(&sqlite.Dialector{DriverName: DriverName, DSN: dsn}, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if debug := os.Getenv("DEBUG"); utils.CheckTruth(debug) {
		db.Logger = db.Logger.LogMode(logger.Info)
	} else {
		db.Logger = db.Logger.LogMode(logger.Silent)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// the database lives as long as its connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.Use(relativity.NewPlugin(config)); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenTestDB opens a database, migrates every fixture model and fills it with the seed data
func OpenTestDB(t testing.TB, config ...relativity.Config) *gorm.DB {
	t.Helper()

	var cfg relativity.Config
	if len(config) > 0 {
		cfg = config[0]
	}
	db, err := OpenTestConnection(cfg)
	if err != nil {
		t.Fatalf("failed to connect database, got error %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	if err := migrator.AutoMigrate(db, AllModels()...); err != nil {
		t.Fatalf("failed to auto migrate, got error %v", err)
	}
	if err := Seed(db); err != nil {
		t.Fatalf("failed to seed, got error %v", err)
	}
	return db
}

// PageSlugs slugs of the page trees
var PageSlugs = []string{
	"Top",
	"Top.Collections",
	"Top.Collections.Pictures",
	"Top.Collections.Pictures.Astronomy",
	"Top.Collections.Pictures.Astronomy.Astronauts",
	"Top.Collections.Pictures.Astronomy.Galaxies",
	"Top.Collections.Pictures.Astronomy.Stars",
	"Top.Hobbies",
	"Top.Hobbies.Amateurs_Astronomy",
	"Top.Science",
	"Top.Science.Astronomy",
	"Top.Science.Astronomy.Astrophysics",
	"Top.Science.Astronomy.Cosmology",
}

type node struct {
	slug     string
	parent   int
	children []int
	path     string
	lft, rgt int
}

// pageTree orders the slugs by depth, parents first, and numbers them for every representation
func pageTree() []*node {
	slugs := append([]string(nil), PageSlugs...)
	sort.SliceStable(slugs, func(i, j int) bool {
		return strings.Count(slugs[i], ".") < strings.Count(slugs[j], ".")
	})

	nodes := make([]*node, len(slugs))
	index := map[string]int{}
	for i, slug := range slugs {
		n := &node{slug: slug, parent: -1}
		if dot := strings.LastIndex(slug, "."); dot >= 0 {
			n.parent = index[slug[:dot]]
			parent := nodes[n.parent]
			parent.children = append(parent.children, i)
			n.path = parent.path + fmt.Sprintf("%04d", len(parent.children))
		} else {
			n.path = fmt.Sprintf("%04d", 1)
		}
		index[slug] = i
		nodes[i] = n
	}

	counter := 0
	var number func(i int)
	number = func(i int) {
		counter++
		nodes[i].lft = counter
		for _, child := range nodes[i].children {
			number(child)
		}
		counter++
		nodes[i].rgt = counter
	}
	for i, n := range nodes {
		if n.parent < 0 {
			number(i)
		}
	}
	return nodes
}

// Seed inserts the fixture rows
func Seed(db *gorm.DB) error {
	nodes := pageTree()
	var (
		pages    []Page
		mpPages  []MPPage
		nsPages  []NSPage
		adjPages []AdjPage
	)
	for i, n := range nodes {
		id := uint(i + 1)
		name := n.slug[strings.LastIndex(n.slug, ".")+1:]
		pages = append(pages, Page{ID: id, Name: name, Slug: n.slug})
		mpPages = append(mpPages, MPPage{ID: id, Name: name, Slug: n.slug, Path: n.path})
		nsPages = append(nsPages, NSPage{ID: id, Name: name, Slug: n.slug, TreeID: 1, Lft: n.lft, Rgt: n.rgt})
		adj := AdjPage{ID: id, Name: name, Slug: n.slug}
		if n.parent >= 0 {
			parent := uint(n.parent + 1)
			adj.ParentID = &parent
		}
		adjPages = append(adjPages, adj)
	}

	rows := []interface{}{
		&pages, &mpPages, &nsPages, &adjPages,
		&[]CartItem{
			{ID: 1, ProductCode: "11", Description: "red circle"},
			{ID: 2, ProductCode: "22", Description: "blue triangle"},
			{ID: 3, ProductCode: "11", Description: "red circle"},
		},
		&[]Product{
			{ID: 1, Sku: "11", Size: 4, Colour: "red", Shape: "circle"},
			{ID: 2, Sku: "22", Size: 2, Colour: "blue", Shape: "triangle"},
			{ID: 3, Sku: "33", Size: 3, Colour: "yellow", Shape: "square"},
			{ID: 4, Sku: "44", Size: 1, Colour: "green", Shape: "circle"},
			{ID: 5, Sku: "55", Size: 3, Colour: "red", Shape: "triangle"},
			{ID: 6, Sku: "66", Size: 5, Colour: "blue", Shape: "square"},
			{ID: 7, Sku: "77", Size: 1, Colour: "yellow", Shape: "circle"},
			{ID: 8, Sku: "88", Size: 2, Colour: "green", Shape: "triangle"},
			{ID: 9, Sku: "99", Size: 2, Colour: "red", Shape: "square"},
		},
		&[]Category{
			{ID: 1, Code: "AAA"},
			{ID: 2, Code: "BBB"},
			{ID: 3, Code: "CCC"},
		},
		&[]Categorised{
			{ID: 1, CategoryCodes: "AAA"},
			{ID: 2, CategoryCodes: "BBB DDD"},
			{ID: 3, CategoryCodes: "AAA CCC"},
			{ID: 4, CategoryCodes: "BBB CCC"},
			{ID: 5, CategoryCodes: "BBB"},
			{ID: 6, CategoryCodes: "CCC"},
		},
		&[]Chemical{
			{ID: 1, Formula: "H2O", ChemicalName: "dihydrogen monoxide", CommonName: "water"},
			{ID: 2, Formula: "NaCl", ChemicalName: "sodium chloride", CommonName: "salt"},
			{ID: 3, Formula: "C2H6O", ChemicalName: "ethanol", CommonName: "alcohol"},
			{ID: 4, Formula: "CH4", ChemicalName: "methane"},
		},
	}
	for _, value := range rows {
		if err := db.Create(value).Error; err != nil {
			return err
		}
	}
	return nil
}

// SortedSlugs the slugs of pages, sorted
func SortedSlugs[T any](rows []T, slug func(T) string) []string {
	slugs := make([]string, 0, len(rows))
	for _, row := range rows {
		slugs = append(slugs, slug(row))
	}
	sort.Strings(slugs)
	return slugs
}

// IDs the primary keys of rows, in order
func IDs[T any](rows []T, id func(T) uint) []uint {
	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, id(row))
	}
	return ids
}

// QueryCounter counts the statements run by a database
type QueryCounter struct {
	count int64
}

// CountQueries starts counting the queries of db
func CountQueries(db *gorm.DB) *QueryCounter {
	counter := &QueryCounter{}
	inc := func(*gorm.DB) { atomic.AddInt64(&counter.count, 1) }
	db.Callback().Query().After("gorm:query").Register("relativity:count_queries", inc)
	db.Callback().Row().After("gorm:row").Register("relativity:count_queries", inc)
	return counter
}

// Count queries run since the counter started or was reset
func (c *QueryCounter) Count() int {
	return int(atomic.LoadInt64(&c.count))
}

// Reset restarts the count
func (c *QueryCounter) Reset() {
	atomic.StoreInt64(&c.count, 0)
}
