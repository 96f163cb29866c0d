// Package source fetches tiles from a WMTS-style endpoint addressed by a URL template.
package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"sattiler/metrics"
	"sattiler/tile"
)

// Response 源的原始响应, 非 2xx 也作为数据返回
type Response struct {
	Status int
	Body   []byte
}

// Class 响应分类, 只有 Valid 可以入库
func (r Response) Class() tile.Class {
	if r.Status != http.StatusOK {
		return tile.Unavailable
	}
	return tile.Classify(r.Body)
}

// Fetcher 瓦片源
type Fetcher interface {
	Fetch(ctx context.Context, c tile.Coord) (Response, error)
}

// Config 瓦片源参数
type Config struct {
	// URL 模板, 支持 {z} {x} {y} {-y}
	URL       string
	Retries   uint64
	Backoff   time.Duration
	Timeout   time.Duration
	UserAgent string
	// Insecure 跳过证书校验, 仅用于测试环境
	Insecure bool
}

// Source HTTP 瓦片源
type Source struct {
	cfg    Config
	client *http.Client
	log    logrus.FieldLogger
}

var _ Fetcher = (*Source)(nil)

// New 创建瓦片源
func New(cfg Config, log logrus.FieldLogger) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New("source: empty url template")
	}
	if cfg.Retries == 0 {
		cfg.Retries = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sattiler/0.1"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	pool, err := gocertifi.CACerts()
	if err != nil {
		log.Warnf("certifi bundle unavailable, using system roots: %s", err)
		if pool, err = x509.SystemCertPool(); err != nil {
			return nil, errors.Wrap(err, "source: cert pool")
		}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, InsecureSkipVerify: cfg.Insecure}
	transport.MaxIdleConnsPerHost = 10

	return &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		log:    log,
	}, nil
}

// URL 获取瓦片URL
func (s *Source) URL(c tile.Coord) string {
	return TileURL(s.cfg.URL, c)
}

// TileURL 替换模板中的占位符
func TileURL(template string, c tile.Coord) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{-y}", strconv.Itoa(c.FlipY()),
		"{y}", strconv.Itoa(c.Y),
	)
	return r.Replace(template)
}

// Fetch 请求瓦片, 网络错误按退避重试, 重试耗尽返回 TransportError
func (s *Source) Fetch(ctx context.Context, c tile.Coord) (Response, error) {
	url := s.URL(c)
	start := time.Now()
	attempts := 0

	var resp Response
	b := retry.WithMaxRetries(s.cfg.Retries, retry.NewExponential(s.cfg.Backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		r, err := s.get(ctx, url)
		if err != nil {
			s.log.Debugf("fetch %s attempt %d: %s", url, attempts, err)
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		metrics.SourceTransportErrors.Inc()
		return Response{}, &tile.TransportError{URL: url, Attempts: attempts, Err: err}
	}

	metrics.SourceRequests.WithLabelValues(strconv.Itoa(resp.Status)).Inc()
	metrics.SourceLatency.Observe(time.Since(start).Seconds())
	s.log.Debugf("tile %s, status %d, %dms, %.2f kb", c, resp.Status, time.Since(start).Milliseconds(), float32(len(resp.Body))/1024.0)
	return resp, nil
}

func (s *Source) get(ctx context.Context, url string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errors.Wrap(err, "read body")
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}
