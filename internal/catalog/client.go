// Package catalog реализует bootstrap REST-клиент (get-instruments,
// get-tickers) и построение циклов треугольного арбитража поверх
// полученного каталога инструментов. См. SPEC_FULL.md §4.1.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"triarbiter/internal/models"
	"triarbiter/pkg/ratelimit"
	"triarbiter/pkg/retry"
	"triarbiter/pkg/utils"
)

// instrumentDTO - форма одного элемента ответа get-instruments.
type instrumentDTO struct {
	InstrumentName   string `json:"instrument_name"`
	BaseCurrency     string `json:"base_currency"`
	QuoteCurrency    string `json:"quote_currency"`
	PriceDecimals    int32  `json:"price_decimals"`
	QuantityDecimals int32  `json:"quantity_decimals"`
	MinQuantity      string `json:"min_quantity"`
	MaxQuantity      string `json:"max_quantity"`
}

type instrumentsResponse struct {
	Instruments []instrumentDTO `json:"instruments"`
}

// tickerDTO - форма одного элемента ответа get-tickers: `i` - имя
// инструмента, `vv` - суточный объём в USD (spec §6).
type tickerDTO struct {
	InstrumentName string  `json:"i"`
	VolumeUSD      float64 `json:"vv"`
}

type tickersResponse struct {
	Data []tickerDTO `json:"data"`
}

// Client - bootstrap REST-клиент: вызывается один раз при старте для
// получения каталога инструментов и суточных объёмов (spec §2, §4.1).
// В отличие от market/user feed, здесь нет постоянного соединения -
// только редкие, но важные для корректности запросы, поэтому клиент
// ограничен токен-бакетом и оборачивается ретраями с backoff.
type Client struct {
	http    *resty.Client
	limiter *ratelimit.RateLimiter
	baseURL string
}

// Config описывает параметры bootstrap-клиента.
type Config struct {
	BaseURL   string
	RateLimit float64
	RateBurst float64
}

// New создаёт bootstrap-клиент поверх настроенного *http.Client
// (см. httpclient.go) и оборачивает его в resty для удобной работы
// с JSON и заголовками.
func New(cfg Config) *Client {
	httpClient := NewHTTPClient(DefaultHTTPClientConfig())
	rc := resty.NewWithClient(httpClient).
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		http:    rc,
		limiter: ratelimit.NewRateLimiter(limit, burst),
		baseURL: cfg.BaseURL,
	}
}

// GetInstruments запрашивает каталог торговых пар и конвертирует его
// в доменные models.Instrument.
func (c *Client) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	var out instrumentsResponse
	if err := c.doGet(ctx, "/public/get-instruments", &out); err != nil {
		return nil, models.WrapKindError(models.ErrorKindBootstrap, "get-instruments", err)
	}

	instruments := make([]models.Instrument, 0, len(out.Instruments))
	for _, dto := range out.Instruments {
		minQty, err := decimal.NewFromString(dto.MinQuantity)
		if err != nil {
			return nil, models.WrapKindError(models.ErrorKindBootstrap, "parse min_quantity for "+dto.InstrumentName, err)
		}
		maxQty, err := decimal.NewFromString(dto.MaxQuantity)
		if err != nil {
			return nil, models.WrapKindError(models.ErrorKindBootstrap, "parse max_quantity for "+dto.InstrumentName, err)
		}
		instruments = append(instruments, models.Instrument{
			InstrumentName:   dto.InstrumentName,
			BaseCurrency:     dto.BaseCurrency,
			QuoteCurrency:    dto.QuoteCurrency,
			PriceDecimals:    dto.PriceDecimals,
			QuantityDecimals: dto.QuantityDecimals,
			MinQuantity:      minQty,
			MaxQuantity:      maxQty,
		})
	}
	return instruments, nil
}

// GetTickers запрашивает суточные объёмы и возвращает их по имени
// инструмента - используется для фильтрации по DAY_VOLUME_THRESHOLD
// (spec §2 "instruments below the volume threshold are excluded").
func (c *Client) GetTickers(ctx context.Context) (map[string]float64, error) {
	var out tickersResponse
	if err := c.doGet(ctx, "/public/get-tickers", &out); err != nil {
		return nil, models.WrapKindError(models.ErrorKindBootstrap, "get-tickers", err)
	}

	volumes := make(map[string]float64, len(out.Data))
	for _, dto := range out.Data {
		volumes[dto.InstrumentName] = dto.VolumeUSD
	}
	return volumes, nil
}

func (c *Client) doGet(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return retry.Do(ctx, func() error {
		resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("bootstrap request %s failed: status %d: %s", path, resp.StatusCode(), resp.String())
		}
		return nil
	}, retry.DefaultConfig())
}

// FilterByVolume отбрасывает инструменты, чей суточный объём не
// превышает thresholdUSD строго (spec §4.1 "strictly exceeds"). Отсутствие
// тикера для инструмента также исключает его из каталога - без объёма
// нельзя отфильтровать неликвидную пару.
func FilterByVolume(instruments []models.Instrument, volumes map[string]float64, thresholdUSD float64) []models.Instrument {
	filtered := make([]models.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		vol, ok := volumes[inst.InstrumentName]
		if !ok {
			continue
		}
		inst.DayVolumeUSD = vol
		if vol <= thresholdUSD {
			continue
		}
		filtered = append(filtered, inst)
	}
	utils.L().Debug("catalog filtered by day volume",
		utils.Int("total", len(instruments)),
		utils.Int("passed", len(filtered)),
	)
	return filtered
}
