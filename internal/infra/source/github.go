package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 2 << 20
)

var ErrNotResolvable = errors.New("source is not a github raw url")

type Config struct {
	Token   string
	TTL     time.Duration
	Timeout time.Duration
	//nilならTimeout付きの既定クライアント
	Client *http.Client
}

type entry struct {
	body      string
	expiresAt time.Time
}

// GitHubResolverはraw URLの中身を取りに行く。取れなければ元の値を返す
type GitHubResolver struct {
	token   string
	ttl     time.Duration
	timeout time.Duration
	http    *http.Client
	log   *zap.Logger
	now   func() time.Time
	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]entry
}

func NewGitHubResolver(cfg Config, log *zap.Logger) *GitHubResolver {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &GitHubResolver{
		token:   strings.TrimSpace(cfg.Token),
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		http:    client,
		log:     log.Named("source.github"),
		now:     time.Now,
		cache:   map[string]entry{},
	}
}

// IsGitHubRawURL reports whether v points at raw file content hosted by GitHub.
func IsGitHubRawURL(v string) bool {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil || u.Scheme != "https" {
		return false
	}
	switch strings.ToLower(u.Host) {
	case "raw.githubusercontent.com", "gist.githubusercontent.com":
		return true
	case "github.com", "www.github.com":
		return strings.Contains(u.Path, "/raw/")
	}
	return false
}

// Resolveは失敗しても元の値を返す（エラーはログのみ）
func (r *GitHubResolver) Resolve(ctx context.Context, stored string) string {
	if !IsGitHubRawURL(stored) {
		return stored
	}
	body, err := r.Fetch(ctx, stored)
	if err != nil {
		r.log.Warn("source fetch failed, returning stored url", zap.String("url", stored), zap.Error(err))
		return stored
	}
	return body
}

func (r *GitHubResolver) Fetch(ctx context.Context, rawURL string) (string, error) {
	if !IsGitHubRawURL(rawURL) {
		return "", ErrNotResolvable
	}
	if body, ok := r.cached(rawURL); ok {
		return body, nil
	}

	//同じURLへの同時取得は1本にまとめる。
	//取得は呼び出し元のキャンセルに引きずられないよう切り離す
	ch := r.group.DoChan(rawURL, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		body, err := r.get(fetchCtx, rawURL)
		if err != nil {
			return "", err
		}
		r.store(rawURL, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *GitHubResolver) cached(key string) (string, bool) {
	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	if r.now().After(e.expiresAt) {
		r.mu.Lock()
		if cur, ok := r.cache[key]; ok && r.now().After(cur.expiresAt) {
			delete(r.cache, key)
		}
		r.mu.Unlock()
		return "", false
	}
	return e.body, true
}

// 書くついでに期限切れを掃除する
func (r *GitHubResolver) store(key string, body string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.cache {
		if now.After(e.expiresAt) {
			delete(r.cache, k)
		}
	}
	r.cache[key] = entry{body: body, expiresAt: now.Add(r.ttl)}
}

func (r *GitHubResolver) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	req.Header.Set("Accept", "application/vnd.github.raw")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github raw: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
