package hermes

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/cbroglie/mustache"
	"github.com/jellydator/ttlcache/v3"
)

// MustacheEngine renders mustache templates. Parsed templates are cached by
// content, so a template edited on disk is parsed again on next use.
// It is safe for concurrent use.
type MustacheEngine struct {
	cache     *ttlcache.Cache[string, *mustache.Template]
	closeOnce sync.Once
}

var _ TemplateEngine = (*MustacheEngine)(nil)

// NewTemplateEngine creates a mustache engine with the given configuration.
func NewTemplateEngine(config TemplateConfig) *MustacheEngine {
	opts := []ttlcache.Option[string, *mustache.Template]{
		ttlcache.WithTTL[string, *mustache.Template](config.CacheTTL),
	}
	if config.CacheSize > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *mustache.Template](uint64(config.CacheSize)))
	}
	cache := ttlcache.New[string, *mustache.Template](opts...)
	go cache.Start()
	return &MustacheEngine{cache: cache}
}

// Render renders an HTML body. Variables are HTML-escaped unless written
// with triple braces.
func (e *MustacheEngine) Render(body string, data interface{}) (string, error) {
	return e.render(body, data, false)
}

// RenderText renders plain text such as a subject line without escaping.
func (e *MustacheEngine) RenderText(body string, data interface{}) (string, error) {
	return e.render(body, data, true)
}

func (e *MustacheEngine) render(body string, data interface{}, raw bool) (string, error) {
	tmpl, err := e.parse(body, raw)
	if err != nil {
		return "", NewTemplateError("", "parse", "failed to parse template", err)
	}
	out, err := tmpl.Render(data)
	if err != nil {
		return "", NewTemplateError("", "render", "failed to render template", err)
	}
	return out, nil
}

func (e *MustacheEngine) parse(body string, raw bool) (*mustache.Template, error) {
	key := cacheKey(body, raw)
	if item := e.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	tmpl, err := mustache.ParseStringRaw(body, raw)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, tmpl, ttlcache.DefaultTTL)
	return tmpl, nil
}

// Cached returns the number of parsed templates in the cache.
func (e *MustacheEngine) Cached() int {
	return e.cache.Len()
}

// Close stops the expiry loop and releases the cache.
func (e *MustacheEngine) Close() error {
	e.closeOnce.Do(func() {
		e.cache.Stop()
		e.cache.DeleteAll()
	})
	return nil
}

func cacheKey(body string, raw bool) string {
	sum := sha256.Sum256([]byte(body))
	prefix := "h:"
	if raw {
		prefix = "t:"
	}
	return prefix + hex.EncodeToString(sum[:])
}
