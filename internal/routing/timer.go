package routing

import (
	"net/http"

	"github.com/yk970217-wq/cleanbear/internal/config"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/matcher"
)

// New 按配置组装路程查询：有 Kakao 密钥时调用地图服务（可选缓存），否则按直线距离估算
func New(cfg config.RoutingConfig, cache Cache, observer Observer) Timer {
	if !cfg.UseKakao() {
		est := matcher.NewEstimator(cfg.AvgSpeedKmh)
		if cfg.FailMinutes > 0 {
			est.FailMinutes = cfg.FailMinutes
		}
		return est
	}

	client := NewKakaoClient(cfg.KakaoAPIKey,
		WithBaseURL(cfg.KakaoURL),
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		WithRetry(cfg.Retries, cfg.RetryDelay),
		WithFailMinutes(cfg.FailMinutes),
		WithObserver(observer),
	)
	if cache == nil {
		return client
	}
	return NewCachedTimer(client, cache, cfg.CacheTTL, client.FailMinutes(), observer)
}
