// Package relativity adds relationships defined by predicates to gorm.
//
// A relationship joins two models on an arbitrary condition instead of a foreign key:
//
//	var CartItemProduct = relativity.New[CartItem, Product]("Product",
//		predicate.Q{"sku": predicate.L("product_code")},
//		relativity.Multiple(false))
//
//	db.Use(relativity.NewPlugin(relativity.Config{}))
//	relativity.Register(db, CartItemProduct)
//
//	product, err := CartItemProduct.ForwardOne(db, &item).Get(ctx)
//	items, err := relativity.Query[CartItem](db).Filter("product__colour", "red").Find(ctx)
package relativity

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/creasty/defaults"
	"golang.org/x/text/cases"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/gorm-relativity/relativity/logger"
)

const pluginName = "relativity"

// prefetchKeyColumn extra column carrying the source key of prefetched rows
const prefetchKeyColumn = "relativity_prefetch_key"

// Config relativity config
type Config struct {
	// AliasPrefix prefix of joined table aliases: T1, T2...
	AliasPrefix string `default:"T"`
	// PrefetchBatchSize maximum number of instances bound into one prefetch query
	PrefetchBatchSize int `default:"500"`
	// DisableFastPath always filter related rows through a join
	DisableFastPath bool
	// Logger receives relation events, wraps the gorm logger when nil
	Logger logger.Interface
}

// Plugin gorm plugin holding the registered relationships of a database
type Plugin struct {
	Config

	namer       schema.Namer
	cacheStore  *sync.Map
	mu          sync.RWMutex
	relations   map[reflect.Type]map[string]*entry
	fields      map[Declaration]*Field
	pending     []Declaration
	initialized bool
}

type entry struct {
	relation   Relation
	prefetcher prefetcher
}

// NewPlugin returns the plugin, install it with db.Use
func NewPlugin(config Config) *Plugin {
	if err := defaults.Set(&config); err != nil {
		panic(err)
	}
	return &Plugin{
		Config:     config,
		cacheStore: &sync.Map{},
		relations:  map[reflect.Type]map[string]*entry{},
		fields:     map[Declaration]*Field{},
	}
}

func (p *Plugin) Name() string {
	return pluginName
}

// Initialize registers the declarations that were added before the plugin was installed
func (p *Plugin) Initialize(db *gorm.DB) error {
	p.mu.Lock()
	p.namer = db.NamingStrategy
	if p.Logger == nil {
		p.Logger = logger.New(db.Logger, logger.Warn)
	}
	p.initialized = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	return p.Register(pending...)
}

// Register contributes relationship declarations to their models
func (p *Plugin) Register(decls ...Declaration) error {
	p.mu.Lock()
	if !p.initialized {
		p.pending = append(p.pending, decls...)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	for _, decl := range decls {
		if err := decl.contribute(p); err != nil {
			return err
		}
	}
	return nil
}

// Register installs the relativity plugin on db when missing and registers decls
func Register(db *gorm.DB, decls ...Declaration) error {
	p, err := pluginOf(db)
	if err != nil {
		p = NewPlugin(Config{})
		if err := db.Use(p); err != nil {
			return err
		}
	}
	return p.Register(decls...)
}

// Relations the relations registered on model, keyed by name
func Relations(db *gorm.DB, model interface{}) (map[string]Relation, error) {
	p, err := pluginOf(db)
	if err != nil {
		return nil, err
	}
	s, err := p.parse(model)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	relations := make(map[string]Relation, len(p.relations[s.ModelType]))
	for name, e := range p.relations[s.ModelType] {
		relations[name] = e.relation
	}
	return relations, nil
}

func pluginOf(db *gorm.DB) (*Plugin, error) {
	if db != nil && db.Config != nil {
		if plugin, ok := db.Config.Plugins[pluginName]; ok {
			if p, ok := plugin.(*Plugin); ok {
				return p, nil
			}
		}
	}
	return nil, ErrPluginNotRegistered
}

func (p *Plugin) parse(model interface{}) (*schema.Schema, error) {
	namer := p.namer
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	return schema.Parse(model, p.cacheStore, namer)
}

func (p *Plugin) install(s *schema.Schema, name string, e *entry) error {
	if field := s.LookUpField(name); field != nil && field.DBName != "" {
		return fmt.Errorf("%w: relation %s.%s shadows a column", gorm.ErrInvalidField, s.Name, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	byName := p.relations[s.ModelType]
	if byName == nil {
		byName = map[string]*entry{}
		p.relations[s.ModelType] = byName
	}
	if _, ok := byName[name]; ok {
		return fmt.Errorf("%w: relation %s.%s", gorm.ErrRegistered, s.Name, name)
	}
	byName[name] = e
	return nil
}

func (p *Plugin) uninstall(s *schema.Schema, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.relations[s.ModelType], name)
}

// relation finds the relation of s called segment, by name or query name
func (p *Plugin) relation(s *schema.Schema, segment string) (*entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byName := p.relations[s.ModelType]
	if e, ok := byName[segment]; ok {
		return e, true
	}

	fold := cases.Fold()
	want := fold.String(segment)
	for name, e := range byName {
		if e.relation.QueryName() == segment || fold.String(name) == want {
			return e, true
		}
	}
	return nil, false
}

func (p *Plugin) field(decl Declaration) (*Field, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if f, ok := p.fields[decl]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNotRegistered, decl)
}

func (p *Plugin) log(ctx context.Context, event logger.Event) {
	if p.Logger != nil {
		p.Logger.Relation(ctx, event)
	}
}

// Registered whether decl is registered on db
func Registered(db *gorm.DB, decl Declaration) bool {
	p, err := pluginOf(db)
	if err != nil {
		return false
	}
	_, err = p.field(decl)
	return err == nil
}
