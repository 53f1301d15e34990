package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type httpLoader struct {
	client *resty.Client
}

// NewHTTPLoader fetches reply audio over HTTP.
func NewHTTPLoader(timeout time.Duration) Loader {
	return &httpLoader{
		client: resty.New().SetTimeout(timeout),
	}
}

func (l *httpLoader) Load(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/*").
		Get(url)
	if err != nil {
		return nil, "", err
	}

	if resp.IsError() {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
