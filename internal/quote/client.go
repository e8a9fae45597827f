// Package quote は株価プロバイダーからの現在値取得を提供する。
// HTTPプロバイダー（eodhd互換）、固定価格表、TTLキャッシュの3つの実装を持つ。
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/shopspring/decimal"
)

const (
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
	userAgent       = "mockmarket/1.0"
)

// 取得結果のメトリクスラベル。
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultCached  = "cached"
)

// Provider は銘柄の現在値を取得するインターフェース。
// 失敗時はQUOTE_UNAVAILABLEのAPIErrorを返す。
type Provider interface {
	GetQuote(ctx context.Context, ticker string) (*model.Quote, error)
}

// Recorder は株価取得のメトリクスの記録先。
type Recorder interface {
	RecordQuoteFetch(result string, latency time.Duration)
}

// ClientConfig はHTTPプロバイダーの設定。
type ClientConfig struct {
	BaseURL   string
	APIToken  string
	PricePath string // 価格のJSONPath（例: $.close）
	TimePath  string // 時刻（UNIX秒）のJSONPath。取得できない場合は受信時刻を使う
}

// Client はeodhd互換のリアルタイム株価APIのクライアント。
// GET {BaseURL}/real-time/{TICKER}?api_token=...&fmt=json を呼び出す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     ClientConfig
	recorder   Recorder
	now        func() time.Time
}

// NewClient はClientを生成する。recorderはnilでもよい。
func NewClient(httpClient *http.Client, logger *slog.Logger, config ClientConfig, recorder Recorder) *Client {
	if config.PricePath == "" {
		config.PricePath = "$.close"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		recorder:   recorder,
		now:        time.Now,
	}
}

// GetQuote は銘柄の現在値を取得する。再試行は行わない。
func (c *Client) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	start := time.Now()
	q, err := c.fetch(ctx, ticker)
	if c.recorder != nil {
		result := ResultSuccess
		if err != nil {
			result = ResultError
		}
		c.recorder.RecordQuoteFetch(result, time.Since(start))
	}
	if err != nil {
		c.logger.Warn("株価の取得に失敗しました",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		return nil, model.NewQuoteUnavailableError(ticker, err.Error())
	}
	return q, nil
}

func (c *Client) fetch(ctx context.Context, ticker string) (*model.Quote, error) {
	reqURL, err := url.Parse(c.config.BaseURL + "/real-time/" + url.PathEscape(ticker))
	if err != nil {
		return nil, fmt.Errorf("invalid quote endpoint: %w", err)
	}
	q := reqURL.Query()
	q.Set("api_token", c.config.APIToken)
	q.Set("fmt", "json")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited by provider")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	price, err := extractDecimal(c.config.PricePath, doc)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price: %s", price)
	}

	return &model.Quote{
		Ticker: ticker,
		Price:  price,
		AsOf:   c.extractTime(doc),
	}, nil
}

// extractTime はTimePathからUNIX秒を読み取る。読み取れない場合は現在時刻を返す。
func (c *Client) extractTime(doc any) time.Time {
	if c.config.TimePath == "" {
		return c.now()
	}
	v, err := lookup(c.config.TimePath, doc)
	if err != nil {
		return c.now()
	}
	n, ok := v.(json.Number)
	if !ok {
		return c.now()
	}
	sec, err := n.Int64()
	if err != nil || sec <= 0 {
		return c.now()
	}
	return time.Unix(sec, 0).UTC()
}

// lookup はJSONPathで値を取り出す。結果が配列の場合は先頭要素を返す。
func lookup(path string, doc any) (any, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, fmt.Errorf("path %s not found: %w", path, err)
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("path %s matched nothing", path)
		}
		v = list[0]
	}
	return v, nil
}

// extractDecimal はJSONPathの値を10進数として読み取る。
// プロバイダーは欠損値を"NA"などの文字列で返すことがある。
func extractDecimal(path string, doc any) (decimal.Decimal, error) {
	v, err := lookup(path, doc)
	if err != nil {
		return decimal.Zero, err
	}

	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid price %q: %w", val, err)
		}
		return d, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" || strings.EqualFold(s, "NA") {
			return decimal.Zero, fmt.Errorf("price not available")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid price %q: %w", s, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected price type %T", v)
	}
}

// compile-time interface check
var _ Provider = (*Client)(nil)
