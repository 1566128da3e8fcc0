package notifier

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// RestySink delivers events as JSON POST bodies to a configured webhook
// URL, grounded on the teacher pack's resty usage for outbound HTTP
// (seakee-dockmon's ipHandler.Exec).
type RestySink struct {
	client *resty.Client
	url    string
}

// NewRestySink builds a RestySink posting to url.
func NewRestySink(url string) *RestySink {
	return &RestySink{client: resty.New(), url: url}
}

// Deliver POSTs ev as JSON to the configured webhook URL.
func (s *RestySink) Deliver(ctx context.Context, ev Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(s.url)
	if err != nil {
		return errors.Wrap(err, "notifier: webhook post")
	}
	if resp.IsError() {
		return errors.Errorf("notifier: webhook returned %s", resp.Status())
	}
	return nil
}
