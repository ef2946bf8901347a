// Package search 内置的全文检索插件，依赖cache插件缓存查询结果
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/sdk"
	"github.com/lomehong/pluginkit/plugins/cache"
	"github.com/lomehong/pluginkit/plugins/content"
)

// Name 插件名称
const Name = "search"

// Result 查询结果
type Result struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Score int    `json:"score"`
}

// Index 倒排索引
type Index struct {
	mu     sync.RWMutex
	terms  map[string]map[string]int // term -> id -> 出现次数
	titles map[string]string
	byDoc  map[string][]string // id -> terms
}

// NewIndex 创建空索引
func NewIndex() *Index {
	return &Index{
		terms:  make(map[string]map[string]int),
		titles: make(map[string]string),
		byDoc:  make(map[string][]string),
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Add 索引文档，已存在的文档先移除
func (x *Index) Add(doc *content.Document) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(doc.ID)
	counts := make(map[string]int)
	for _, field := range append([]string{doc.Title, doc.Body}, doc.Tags...) {
		for _, term := range tokenize(field) {
			counts[term]++
		}
	}
	terms := make([]string, 0, len(counts))
	for term, n := range counts {
		if x.terms[term] == nil {
			x.terms[term] = make(map[string]int)
		}
		x.terms[term][doc.ID] = n
		terms = append(terms, term)
	}
	x.byDoc[doc.ID] = terms
	x.titles[doc.ID] = doc.Title
}

// Remove 移除文档
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *Index) removeLocked(id string) {
	for _, term := range x.byDoc[id] {
		delete(x.terms[term], id)
		if len(x.terms[term]) == 0 {
			delete(x.terms, term)
		}
	}
	delete(x.byDoc, id)
	delete(x.titles, id)
}

// Len 已索引的文档数
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byDoc)
}

// Search 返回包含所有查询词的文档，按得分降序
func (x *Index) Search(query string) []Result {
	terms := tokenize(query)
	if len(terms) == 0 {
		return []Result{}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	scores := make(map[string]int)
	for i, term := range terms {
		postings := x.terms[term]
		if i == 0 {
			for id, n := range postings {
				scores[id] = n
			}
			continue
		}
		for id := range scores {
			n, ok := postings[id]
			if !ok {
				delete(scores, id)
				continue
			}
			scores[id] += n
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Title: x.titles[id], Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// Store 查询结果缓存，由cache插件提供
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// Plugin 检索插件
type Plugin struct {
	index *Index

	mu    sync.RWMutex
	cache Store
}

// NewPlugin 创建检索插件的实现
func NewPlugin() *Plugin {
	return &Plugin{index: NewIndex()}
}

// Index 返回索引
func (p *Plugin) Index() *Index {
	return p.index
}

func (p *Plugin) store() Store {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache
}

// Query 执行查询，命中缓存时直接返回
func (p *Plugin) Query(q string) []Result {
	key := "search:" + strings.Join(tokenize(q), " ")
	store := p.store()
	if store != nil {
		if v, ok := store.Get(key); ok {
			if results, ok := v.([]Result); ok {
				return results
			}
		}
	}
	results := p.index.Search(q)
	if store != nil {
		store.Set(key, results)
	}
	return results
}

func (p *Plugin) onSave(ctx context.Context, data any, hc *hooks.HookContext) (any, error) {
	doc, err := content.FromHook(data)
	if err != nil {
		return data, err
	}
	p.index.Add(doc)
	return data, nil
}

func (p *Plugin) onDelete(ctx context.Context, data any, hc *hooks.HookContext) (any, error) {
	doc, err := content.FromHook(data)
	if err != nil {
		return data, err
	}
	p.index.Remove(doc.ID)
	return data, nil
}

// ServeHTTP GET /search?q=...
func (p *Plugin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query().Get("q")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   q,
		"results": p.Query(q),
	})
}

// Build 生成插件描述
func (p *Plugin) Build() *plugin.Plugin {
	return sdk.NewPluginBuilder(Name).
		WithVersion("1.0.0").
		WithDescription("内容全文检索，保存时建立索引").
		WithAuthor("pluginkit").
		WithLicense("MIT").
		DependsOn(cache.Name).
		AddHook(hooks.ContentSave, p.onSave, plugin.DefaultPriority).
		AddHook(hooks.ContentDelete, p.onDelete, plugin.DefaultPriority).
		AddRoute("/search", p).
		OnActivate(func(ctx context.Context, pc *plugin.Context) error {
			svc, ok := pc.Services.GetService(cache.Name, cache.ServiceName)
			if !ok {
				pc.Logger.Warn("缓存服务不可用，查询结果不缓存")
				return nil
			}
			store, ok := svc.(Store)
			if !ok {
				pc.Logger.Warn("缓存服务类型不匹配", "type", fmt.Sprintf("%T", svc))
				return nil
			}
			p.mu.Lock()
			p.cache = store
			p.mu.Unlock()
			return nil
		}).
		OnDeactivate(func(ctx context.Context, pc *plugin.Context) error {
			p.mu.Lock()
			p.cache = nil
			p.mu.Unlock()
			return nil
		}).
		MustBuild()
}

// New 创建检索插件
func New() *plugin.Plugin {
	return NewPlugin().Build()
}
