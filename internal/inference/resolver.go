// Package inference resolves which upstream credential a request runs under.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter/router"
	"github.com/WhyNeet/t3-chat-clone/internal/cache"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
)

// DefaultCacheTTL bounds how long a sealed user key stays cached.
const DefaultCacheTTL = time.Hour

// Source records where a credential came from.
type Source string

const (
	SourceUser    Source = "user"
	SourceDefault Source = "default"
)

// Credential is a plaintext provider key.
type Credential struct {
	Key    string
	Source Source
}

// IsUser reports whether the credential is the caller's own key.
func (c Credential) IsUser() bool { return c.Source == SourceUser }

// Decrypter opens sealed keys.
type Decrypter interface {
	Decrypt(sealed string) (string, error)
}

// DefaultKeys returns the operator credential for a provider.
type DefaultKeys interface {
	DefaultKey(p router.Provider) string
}

// Resolver looks a user's key up in the cache, then the durable store, then
// falls back to the operator default.
type Resolver struct {
	cache    cache.Cache
	keys     store.KeyStore
	cipher   Decrypter
	defaults DefaultKeys
	ttl      time.Duration
	logger   *log.Logger
}

// Options configures a Resolver.
type Options struct {
	Cache    cache.Cache
	Keys     store.KeyStore
	Cipher   Decrypter
	Defaults DefaultKeys
	TTL      time.Duration
	Logger   *log.Logger
}

// NewResolver builds a Resolver. Cache may be nil.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Keys == nil {
		return nil, errors.New("inference: key store required")
	}
	if opts.Cipher == nil {
		return nil, errors.New("inference: cipher required")
	}
	if opts.Defaults == nil {
		return nil, errors.New("inference: default keys required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{
		cache:    opts.Cache,
		keys:     opts.Keys,
		cipher:   opts.Cipher,
		defaults: opts.Defaults,
		ttl:      opts.TTL,
		logger:   opts.Logger,
	}, nil
}

// CacheKey is the cache entry name for a user's key with provider.
func CacheKey(p router.Provider, userID string) string {
	return string(p) + "-" + userID
}

// Resolve returns the credential for userID against provider.
func (r *Resolver) Resolve(ctx context.Context, p router.Provider, userID string) (Credential, error) {
	sealed, found := r.lookupCache(ctx, p, userID)
	if !found {
		k, err := r.keys.GetAPIKey(ctx, userID, string(p))
		switch {
		case errors.Is(err, store.ErrNotFound):
			return Credential{Key: r.defaults.DefaultKey(p), Source: SourceDefault}, nil
		case err != nil:
			return Credential{}, fmt.Errorf("inference: load key: %w", err)
		}
		sealed = k.Key
		r.storeCache(ctx, p, userID, sealed)
	}
	plain, err := r.cipher.Decrypt(sealed)
	if err != nil {
		return Credential{}, fmt.Errorf("inference: decrypt key: %w", err)
	}
	return Credential{Key: plain, Source: SourceUser}, nil
}

func (r *Resolver) lookupCache(ctx context.Context, p router.Provider, userID string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	v, ok, err := r.cache.Get(ctx, CacheKey(p, userID))
	if err != nil {
		r.logger.Printf("credential cache read failed: %v", err)
		return "", false
	}
	return v, ok
}

func (r *Resolver) storeCache(ctx context.Context, p router.Provider, userID, sealed string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, CacheKey(p, userID), sealed, r.ttl); err != nil {
		r.logger.Printf("credential cache write failed: %v", err)
	}
}
