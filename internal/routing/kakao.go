// Package routing 提供路程时间查询：Kakao 导航 API、Redis 缓存
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yk970217-wq/cleanbear/pkg/logger"
	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// 查询结果标签
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultCacheHit = "cache_hit"
)

// DefaultKakaoURL Kakao Mobility 导航接口
const DefaultKakaoURL = "https://apis-navi.kakaomobility.com/v1/directions"

// Timer 路程时间查询
type Timer interface {
	TravelMinutes(ctx context.Context, from, to model.Location) float64
}

// Observer 查询结果观察者
type Observer interface {
	RouteLookup(result string)
}

type nopObserver struct{}

func (nopObserver) RouteLookup(string) {}

// Route 路线摘要
type Route struct {
	DistanceMeters  int
	DurationMinutes float64
}

// KakaoClient Kakao 导航客户端
type KakaoClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	retries     int
	retryDelay  time.Duration
	failMinutes float64
	observer    Observer
}

// KakaoOption 客户端选项
type KakaoOption func(*KakaoClient)

// WithBaseURL 指定接口地址
func WithBaseURL(u string) KakaoOption {
	return func(c *KakaoClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient 指定 HTTP 客户端
func WithHTTPClient(hc *http.Client) KakaoOption {
	return func(c *KakaoClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetry 重试次数和间隔
func WithRetry(retries int, delay time.Duration) KakaoOption {
	return func(c *KakaoClient) {
		if retries >= 0 {
			c.retries = retries
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithFailMinutes 查询失败时返回的分钟数
func WithFailMinutes(v float64) KakaoOption {
	return func(c *KakaoClient) {
		if v > 0 {
			c.failMinutes = v
		}
	}
}

// WithObserver 查询结果观察者
func WithObserver(o Observer) KakaoOption {
	return func(c *KakaoClient) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewKakaoClient 创建客户端，默认重试 2 次、间隔 500ms、失败值 9999
func NewKakaoClient(apiKey string, opts ...KakaoOption) *KakaoClient {
	c := &KakaoClient{
		apiKey:      apiKey,
		baseURL:     DefaultKakaoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retries:     2,
		retryDelay:  500 * time.Millisecond,
		failMinutes: 9999,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FailMinutes 失败值
func (c *KakaoClient) FailMinutes() float64 {
	return c.failMinutes
}

// TravelMinutes 查询行车时间（分钟，保留一位小数）；缺少坐标或查询失败返回失败值
func (c *KakaoClient) TravelMinutes(ctx context.Context, from, to model.Location) float64 {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		c.observer.RouteLookup(ResultFailed)
		return c.failMinutes
	}

	route, err := c.Route(ctx, from, to)
	if err != nil {
		c.observer.RouteLookup(ResultFailed)
		logger.WithContext(ctx).Warn().
			Err(err).
			Str("origin", coord(from)).
			Str("destination", coord(to)).
			Msg("路程查询失败")
		return c.failMinutes
	}

	c.observer.RouteLookup(ResultOK)
	return route.DurationMinutes
}

// Route 查询路线，失败时按配置重试
func (c *KakaoClient) Route(ctx context.Context, from, to model.Location) (*Route, error) {
	var b backoff.BackOff = backoff.NewConstantBackOff(c.retryDelay)
	b = backoff.WithMaxRetries(b, uint64(c.retries))
	b = backoff.WithContext(b, ctx)

	var route *Route
	err := backoff.Retry(func() error {
		r, err := c.fetch(ctx, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		route = r
		return nil
	}, b)
	if err != nil {
		return nil, err
	}
	return route, nil
}

type directionsResponse struct {
	Routes []struct {
		ResultCode int    `json:"result_code"`
		ResultMsg  string `json:"result_msg"`
		Summary    struct {
			Distance int     `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
	} `json:"routes"`
}

func (c *KakaoClient) fetch(ctx context.Context, from, to model.Location) (*Route, error) {
	q := url.Values{}
	q.Set("origin", coord(from))
	q.Set("destination", coord(to))
	q.Set("priority", "RECOMMEND")
	q.Set("car_fuel", "GASOLINE")
	q.Set("car_hipass", "false")
	q.Set("alternatives", "false")
	q.Set("road_details", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("API 错误: %d", resp.StatusCode)
	}

	var body directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if len(body.Routes) == 0 {
		return nil, fmt.Errorf("响应中没有路线")
	}

	first := body.Routes[0]
	if first.ResultCode != 0 {
		return nil, backoff.Permanent(fmt.Errorf("路线不可达: %d %s", first.ResultCode, first.ResultMsg))
	}

	summary := first.Summary
	return &Route{
		DistanceMeters:  summary.Distance,
		DurationMinutes: math.Round(summary.Duration/1000/60*10) / 10,
	}, nil
}

// coord 坐标格式 "经度,纬度"
func coord(l model.Location) string {
	return fmt.Sprintf("%g,%g", l.Longitude, l.Latitude)
}
