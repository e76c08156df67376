// Package models holds the catalog of models a prompt may target.
package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter/router"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
)

// Model describes one selectable model.
type Model struct {
	Identifier  string          `json:"identifier" yaml:"identifier"`
	Name        string          `json:"name" yaml:"name"`
	Provider    router.Provider `json:"provider" yaml:"provider"`
	IsReasoning bool            `json:"is_reasoning" yaml:"is_reasoning"`
	Author      string          `json:"author" yaml:"author"`
	Free        bool            `json:"free" yaml:"-"`
}

// File is the YAML layout accepted by Load.
type File struct {
	Free []Model `yaml:"free"`
	Paid []Model `yaml:"paid"`
}

// Catalog is a concurrency-safe model lookup.
type Catalog struct {
	mu     sync.RWMutex
	free   []Model
	paid   []Model
	byID   map[string]Model
	source string
}

// Logger is a minimal logging interface.
type Logger interface {
	Printf(format string, args ...any)
}

// New builds a catalog from explicit lists.
func New(free, paid []Model) *Catalog {
	c := &Catalog{}
	c.apply(free, paid, "static")
	return c
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(defaultFree(), defaultPaid())
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("models: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("models: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("models: parse %s: %w", path, err)
	}
	if len(f.Free)+len(f.Paid) == 0 {
		return nil, fmt.Errorf("models: %s lists no models", path)
	}
	for _, list := range [][]Model{f.Free, f.Paid} {
		for i := range list {
			p, err := router.ParseProvider(string(list[i].Provider))
			if err != nil {
				return nil, fmt.Errorf("models: %s: model %q: %w", path, list[i].Identifier, err)
			}
			list[i].Provider = p
		}
	}
	c := &Catalog{}
	c.apply(f.Free, f.Paid, path)
	return c, nil
}

// LoadOrDefault loads path when set, falling back to the built-in catalog on error.
func LoadOrDefault(path string, logger Logger) *Catalog {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	c, err := Load(path)
	if err != nil {
		if logger != nil {
			logger.Printf("models: %v; using built-in catalog", err)
		}
		return Default()
	}
	return c
}

func (c *Catalog) apply(free, paid []Model, src string) {
	byID := make(map[string]Model, len(free)+len(paid))
	f := make([]Model, 0, len(free))
	for _, m := range free {
		m.Free = true
		f = append(f, m)
		byID[m.Identifier] = m
	}
	p := make([]Model, 0, len(paid))
	for _, m := range paid {
		m.Free = false
		p = append(p, m)
		byID[m.Identifier] = m
	}
	c.mu.Lock()
	c.free, c.paid, c.byID, c.source = f, p, byID, src
	c.mu.Unlock()
}

// Lookup returns the model with the exact identifier.
func (c *Catalog) Lookup(identifier string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[identifier]
	return m, ok
}

// Free returns the free-tier models in catalog order.
func (c *Catalog) Free() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Model(nil), c.free...)
}

// Paid returns the models that require the user's own credential.
func (c *Catalog) Paid() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Model(nil), c.paid...)
}

// Source reports where the catalog was loaded from.
func (c *Catalog) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// OpenAIList renders the catalog in the OpenAI /v1/models shape.
func (c *Catalog) OpenAIList() openai.ModelList {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]openai.Model, 0, len(c.free)+len(c.paid))
	for _, list := range [][]Model{c.free, c.paid} {
		for _, m := range list {
			out = append(out, openai.NewModel(m.Identifier, strings.ToLower(m.Author)))
		}
	}
	return openai.NewModelList(out)
}
