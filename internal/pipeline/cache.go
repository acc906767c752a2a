package pipeline

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dgallion1/docmd/internal/assemble"
	"github.com/dgallion1/docmd/internal/document"
	"github.com/dgallion1/docmd/internal/engine"
)

// ResultCache holds fully successful conversions so re-submitting the same
// bytes skips the engine.
type ResultCache struct {
	lru *expirable.LRU[string, *assemble.Result]
}

// NewResultCache returns nil when size <= 0; a nil cache never hits.
func NewResultCache(size int, ttl time.Duration) *ResultCache {
	if size <= 0 {
		return nil
	}
	return &ResultCache{lru: expirable.NewLRU[string, *assemble.Result](size, nil, ttl)}
}

// The stem is part of the key because asset paths embed it.
func cacheKey(doc *document.Document, e engine.Engine) string {
	return doc.ContentHash + "|" + doc.Stem() + "|" + e.Name() + "|" + e.Model()
}

func (c *ResultCache) Get(doc *document.Document, e engine.Engine) (*assemble.Result, bool) {
	if c == nil || doc == nil || doc.ContentHash == "" {
		return nil, false
	}
	return c.lru.Get(cacheKey(doc, e))
}

func (c *ResultCache) Put(doc *document.Document, e engine.Engine, res *assemble.Result) {
	if c == nil || doc == nil || doc.ContentHash == "" {
		return
	}
	c.lru.Add(cacheKey(doc, e), res)
}

func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
