// Package webhook implements an ApplicationHost capability that forwards
// the events published on the Manager's EventEmitter that match a configured
// topic pattern to an HTTP endpoint, retrying transient failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/benoitc/gaffer/manager"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// Dispatcher is a webhook-delivery ApplicationHost capability (spec.md
// §4.7). It subscribes to a topic pattern and POSTs each matching event as
// JSON to URL, retrying with backoff via go-retryablehttp.
type Dispatcher struct {
	URL     string
	Pattern string // defaults to "*" across the top-level topic segment

	log    hclog.Logger
	client *retryablehttp.Client

	mu      sync.Mutex
	subID   string
	mgr     *manager.Manager
	started bool
}

// New constructs a Dispatcher posting to url for events matching pattern.
func New(url, pattern string, log hclog.Logger) *Dispatcher {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if pattern == "" {
		pattern = "*"
	}
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.Logger = nil
	return &Dispatcher{URL: url, Pattern: pattern, log: log.Named("webhook")}
}

func (d *Dispatcher) Name() string { return "webhook:" + d.URL }

// Start subscribes the dispatcher to m's EventEmitter.
func (d *Dispatcher) Start(m *manager.Manager) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.client = retryablehttp.NewClient()
	d.client.HTTPClient = cleanhttp.DefaultPooledClient()
	d.client.Logger = nil

	subID, err := m.Monitor(d.Pattern, d.deliver)
	if err != nil {
		return err
	}
	d.subID = subID
	d.mgr = m
	d.started = true
	return nil
}

// Stop unsubscribes the dispatcher.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started && d.mgr != nil {
		d.mgr.Unmonitor(d.subID)
	}
	d.started = false
	return nil
}

// Restart re-subscribes against m.
func (d *Dispatcher) Restart(m *manager.Manager) error {
	_ = d.Stop()
	return d.Start(m)
}

func (d *Dispatcher) deliver(topic string, payload any) {
	body, err := json.Marshal(map[string]any{"topic": topic, "payload": payload})
	if err != nil {
		d.log.Warn("failed to marshal event payload", "topic", topic, "error", err)
		return
	}
	req, err := retryablehttp.NewRequest("POST", d.URL, bytes.NewReader(body))
	if err != nil {
		d.log.Warn("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := d.client.Do(req.WithContext(context.Background()))
		if err != nil {
			d.log.Warn("webhook delivery failed", "url", d.URL, "topic", topic, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
