// Package loadgen drives synthetic traffic at a running authd instance so
// dashboards and rate limits can be exercised end to end.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	BasePath    string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
	// Username and Password enable the successful-login path of the auth
	// profile; without them only failing logins are sent.
	Username string
	Password string
}

type Result struct {
	TotalRequests int64
	Failures      int64
	ByStatusClass map[string]int64
	ByEndpoint    map[string]int64
}

type target struct {
	name string
	do   func(ctx context.Context, w *worker) (int, error)
}

type worker struct {
	cfg    Config
	client *http.Client
	rng    *rand.Rand
}

func normalizeProfile(p string) string {
	switch v := strings.ToLower(strings.TrimSpace(p)); v {
	case "health", "auth", "mixed":
		return v
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func targetsFor(profile string) []target {
	health := []target{
		{name: "health_live", do: func(ctx context.Context, w *worker) (int, error) { return w.get(ctx, "/health/live") }},
		{name: "health_ready", do: func(ctx context.Context, w *worker) (int, error) { return w.get(ctx, "/health/ready") }},
	}
	auth := []target{
		{name: "login_invalid", do: func(ctx context.Context, w *worker) (int, error) {
			return w.post(ctx, w.api("/login"), map[string]string{
				"username": fmt.Sprintf("loadgen-%d", w.rng.IntN(1000)),
				"password": "wrong-password",
			})
		}},
		{name: "login_refresh", do: func(ctx context.Context, w *worker) (int, error) {
			if w.cfg.Username == "" {
				return w.post(ctx, w.api("/auth/refresh"), nil)
			}
			status, err := w.post(ctx, w.api("/login"), map[string]string{"username": w.cfg.Username, "password": w.cfg.Password})
			if err != nil || status != http.StatusOK {
				return status, err
			}
			return w.post(ctx, w.api("/auth/refresh"), nil)
		}},
		{name: "me_anonymous", do: func(ctx context.Context, w *worker) (int, error) { return w.get(ctx, w.api("/me")) }},
	}
	switch profile {
	case "health":
		return health
	case "auth":
		return auth
	default:
		return append(health, auth...)
	}
}

// Run sends traffic until the duration elapses or ctx is cancelled. Only
// transport errors and 5xx responses count as failures; 4xx is the expected
// answer to most synthetic logins.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = "/api"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	targets := targetsFor(normalizeProfile(cfg.Profile))

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		total, failures atomic.Int64
		mu              sync.Mutex
		byClass         = map[string]int64{}
		byEndpoint      = map[string]int64{}
	)
	slots := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(slots)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case slots <- struct{}{}:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	for i := 0; i < cfg.Concurrency; i++ {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		w := &worker{
			cfg:    cfg,
			client: &http.Client{Timeout: 10 * time.Second, Jar: jar},
			rng:    rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
		}
		g.Go(func() error {
			for range slots {
				t := targets[w.rng.IntN(len(targets))]
				status, err := t.do(gctx, w)
				if err != nil && gctx.Err() != nil {
					return nil
				}
				total.Add(1)
				class := classifyStatusClass(status)
				if err != nil || class == "5xx" {
					failures.Add(1)
				}
				if err != nil {
					class = "error"
				}
				mu.Lock()
				byClass[class]++
				byEndpoint[t.name]++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Result{
		TotalRequests: total.Load(),
		Failures:      failures.Load(),
		ByStatusClass: byClass,
		ByEndpoint:    byEndpoint,
	}, nil
}

func (w *worker) api(path string) string {
	if w.cfg.BasePath == "/" {
		return path
	}
	return w.cfg.BasePath + path
}

func (w *worker) get(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return w.send(req)
}

func (w *worker) post(ctx context.Context, path string, body any) (int, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.send(req)
}

func (w *worker) send(req *http.Request) (int, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
