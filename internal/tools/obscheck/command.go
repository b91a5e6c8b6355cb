// Package obscheck verifies that authd telemetry is correlated end to end:
// a request exemplar points at a trace that Tempo knows and that Loki has
// log lines for.
package obscheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-security-engine/internal/tools/common"
	"github.com/sandeepkv93/session-security-engine/internal/tools/loadgen"
	"github.com/sandeepkv93/session-security-engine/internal/tools/ui"
)

const exemplarMetric = "http_server_request_duration_seconds_bucket"

type options struct {
	grafanaURL      string
	grafanaUser     string
	grafanaPassword string
	serviceName     string
	window          time.Duration
	settle          time.Duration
	ci              bool
	baseURL         string
}

func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "obscheck", Short: "Verify metrics, traces and logs correlation"}
	cmd.PersistentFlags().StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	cmd.PersistentFlags().StringVar(&opts.grafanaUser, "grafana-user", "admin", "Grafana username")
	cmd.PersistentFlags().StringVar(&opts.grafanaPassword, "grafana-password", "admin", "Grafana password")
	cmd.PersistentFlags().StringVar(&opts.serviceName, "service-name", "session-security-engine", "OTel service name")
	cmd.PersistentFlags().DurationVar(&opts.window, "window", 20*time.Minute, "query lookback window")
	cmd.PersistentFlags().DurationVar(&opts.settle, "settle", 8*time.Second, "wait for exporters to flush after traffic")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "authd base URL for traffic")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate login traffic and follow exemplar -> trace -> logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "obscheck run", func(ctx context.Context) ([]string, error) {
				return verify(ctx, opts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "obscheck run", details, err)
			}
			return err
		},
	}
}

func verify(ctx context.Context, opts *options) ([]string, error) {
	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.baseURL,
		Profile:     "mixed",
		Duration:    6 * time.Second,
		RPS:         20,
		Concurrency: 6,
		Seed:        42,
	})
	if err != nil {
		return nil, err
	}
	details := []string{fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures)}
	notBefore := time.Now().Add(-2 * time.Minute)
	select {
	case <-ctx.Done():
		return details, ctx.Err()
	case <-time.After(opts.settle):
	}

	traceID, err := fetchTraceIDFromExemplar(ctx, opts, notBefore)
	if err != nil {
		return details, err
	}
	details = append(details, "exemplar trace_id="+traceID)
	if err := verifyTempoTrace(ctx, opts, traceID); err != nil {
		return details, err
	}
	details = append(details, "tempo trace lookup: ok")
	if err := verifyLokiTraceLogs(ctx, opts, traceID); err != nil {
		return details, err
	}
	return append(details, "loki trace correlation: ok"), nil
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func grafanaGET(ctx context.Context, opts *options, path string) ([]byte, error) {
	base, err := url.Parse(opts.grafanaURL)
	if err != nil {
		return nil, err
	}
	rel, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(rel).String(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(opts.grafanaUser, opts.grafanaPassword)
	resp, err := (&http.Client{Timeout: 20 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("grafana request failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

type exemplarResponse struct {
	Data []struct {
		Exemplars []struct {
			Labels    map[string]string `json:"labels"`
			Timestamp float64           `json:"timestamp"`
		} `json:"exemplars"`
	} `json:"data"`
}

// latestTraceID picks the newest 32-hex trace id at or after notBefore.
func latestTraceID(body []byte, notBefore time.Time) (string, error) {
	var payload exemplarResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode exemplars: %w", err)
	}
	var best string
	var bestTS float64
	for _, series := range payload.Data {
		for _, e := range series.Exemplars {
			if e.Timestamp <= 0 || int64(e.Timestamp) < notBefore.Unix() {
				continue
			}
			if tid := e.Labels["trace_id"]; len(tid) == 32 && e.Timestamp > bestTS {
				best, bestTS = tid, e.Timestamp
			}
		}
	}
	if best == "" {
		return "", errors.New("no recent trace_id exemplar found")
	}
	return best, nil
}

func fetchTraceIDFromExemplar(ctx context.Context, opts *options, notBefore time.Time) (string, error) {
	end := time.Now()
	path := fmt.Sprintf("/api/datasources/proxy/uid/mimir/api/v1/query_exemplars?query=%s&start=%d&end=%d",
		exemplarMetric, end.Add(-opts.window).Unix(), end.Unix())
	body, err := grafanaGET(ctx, opts, path)
	if err != nil {
		return "", err
	}
	return latestTraceID(body, notBefore)
}

func verifyTempoTrace(ctx context.Context, opts *options, traceID string) error {
	path := "/api/datasources/proxy/uid/tempo/api/traces/" + traceID
	lastErr := errors.New("tempo trace lookup failed")
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		body, err := grafanaGET(ctx, opts, path)
		if err != nil {
			lastErr = err
			continue
		}
		var payload struct {
			Batches []json.RawMessage `json:"batches"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		if len(payload.Batches) > 0 {
			return nil
		}
		lastErr = errors.New("tempo trace has no batches yet")
	}
	return lastErr
}

func verifyLokiTraceLogs(ctx context.Context, opts *options, traceID string) error {
	end := time.Now()
	start := end.Add(-30 * time.Minute)
	queries := []string{
		fmt.Sprintf(`{service_name=%q} | json | trace_id=%q`, opts.serviceName, traceID),
		fmt.Sprintf(`{service_name=~".+"} | json | trace_id=%q`, traceID),
	}
	for _, raw := range queries {
		path := fmt.Sprintf("/api/datasources/proxy/uid/loki/loki/api/v1/query_range?query=%s&start=%d&end=%d&limit=1&direction=backward",
			url.QueryEscape(raw), start.UnixNano(), end.UnixNano())
		body, err := grafanaGET(ctx, opts, path)
		if err != nil {
			return err
		}
		var payload struct {
			Data struct {
				Result []json.RawMessage `json:"result"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		if len(payload.Data.Result) > 0 {
			return nil
		}
	}
	return fmt.Errorf("no correlated loki logs found for trace_id %s", traceID)
}
