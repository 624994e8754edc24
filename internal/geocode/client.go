// Package geocode は逆ジオコーディング連携機能を提供する。
// 座標から地域ラベルへの解決と、PinごとのキャッシュTTL管理を含む。
// 解決結果は表示と地域別集計のグルーピングにのみ使用されるため、
// 失敗しても呼び出し元の処理を中断させてはならない。
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"
)

const (
	// defaultEndpoint はNominatim互換の逆ジオコーディングAPIのエンドポイント。
	defaultEndpoint = "https://nominatim.openstreetmap.org/reverse"
	// UnknownRegion は地域を解決できなかった場合のフォールバックラベル。
	UnknownRegion = "Unknown Region"
)

// RegionResolver は座標から地域ラベルを解決するインターフェース。
// テスト時にモックに差し替え可能。
type RegionResolver interface {
	// ReverseGeocode は座標を人間可読な地域ラベルに解決する。
	// 解決できない場合はUnknownRegionを返す。エラーを返した場合でも
	// 第1戻り値は常に表示可能なラベルである。
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Client はNominatim互換APIの逆ジオコーディングクライアント。
// 公開APIの利用ポリシー（1 req/sec）を守るため送信レートを制限する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// ClientConfig はClientの設定パラメータ。
type ClientConfig struct {
	// Endpoint は逆ジオコーディングAPIのURL。空の場合はNominatimを使用する。
	Endpoint string
	// RatePerSec は1秒あたりの最大リクエスト数（デフォルト: 1）。
	RatePerSec float64
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg ClientConfig) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
		endpoint:   endpoint,
	}
}

// nominatimResponse はNominatim逆ジオコーディングAPIのレスポンス。
// addressの内訳は国・データ品質によって欠けることがある。
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		State   string `json:"state"`
		County  string `json:"county"`
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
	} `json:"address"`
}

// ReverseGeocode は座標を地域ラベルに解決する。
// 座標が有効範囲外（lat ∉ [-90,90] または lng ∉ [-180,180]）の場合は
// ネットワーク呼び出しを行わずにUnknownRegionを返す。
// API呼び出しの失敗時もUnknownRegionを返し、エラーは参考情報として添える。
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	// 座標範囲の事前検証（範囲外はAPIを呼ばない）
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return UnknownRegion, nil
	}

	// 公開APIの利用ポリシーに従い送信レートを制限する
	if err := c.limiter.Wait(ctx); err != nil {
		return UnknownRegion, err
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return UnknownRegion, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return UnknownRegion, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Kyuen/1.0 Disaster Relief Coordinator")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("逆ジオコーディングAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Float64("lat", lat),
			slog.Float64("lng", lng),
		)
		return UnknownRegion, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("逆ジオコーディングAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return UnknownRegion, fmt.Errorf("逆ジオコーディングAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UnknownRegion, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Warn("逆ジオコーディングAPIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return UnknownRegion, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return regionLabel(result), nil
}

// regionLabel はAPIレスポンスから表示用の地域ラベルを組み立てる。
// 都道府県＋市区町村を優先し、内訳が欠けている場合はdisplay_nameへ、
// それも空の場合はUnknownRegionへフォールバックする。
func regionLabel(r nominatimResponse) string {
	locality := r.Address.City
	if locality == "" {
		locality = r.Address.Town
	}
	if locality == "" {
		locality = r.Address.Village
	}
	if locality == "" {
		locality = r.Address.County
	}

	switch {
	case r.Address.State != "" && locality != "":
		return r.Address.State + " " + locality
	case r.Address.State != "":
		return r.Address.State
	case locality != "":
		return locality
	case r.DisplayName != "":
		return r.DisplayName
	default:
		return UnknownRegion
	}
}
