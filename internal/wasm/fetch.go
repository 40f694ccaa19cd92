package wasm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// maxModuleBytes caps a fetched module body.
const maxModuleBytes = 64 << 20

// URLModuleSource fetches Wasm over HTTP with retries.
type URLModuleSource struct {
	URL    string
	client *retryablehttp.Client
}

// NewURLModuleSource creates a network source. retryMax bounds the retry
// count for transient failures.
func NewURLModuleSource(url string, retryMax int, logger *zap.Logger) *URLModuleSource {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = leveledLogger{logger.With(zap.String("component", "wasm-fetch")).Sugar()}

	return &URLModuleSource{URL: url, client: client}
}

// Bytes downloads the module body.
func (u *URLModuleSource) Bytes(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/wasm")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", u.URL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxModuleBytes {
		return nil, fmt.Errorf("fetch %s: module exceeds %d bytes", u.URL, maxModuleBytes)
	}
	return data, nil
}

// Name returns the URL as the module name.
func (u *URLModuleSource) Name() string {
	return u.URL
}

// leveledLogger adapts a zap sugared logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
