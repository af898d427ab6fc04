package telegram

import (
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	dialTimeout     = 5 * time.Second
	responseSlack   = 5 * time.Second
	dialRetries     = 2
	dialRetryPause  = time.Second
	idleConnTimeout = 30 * time.Second
)

// BuildHTTPClient returns the Bot API client. longPoll is how long
// getUpdates may hold a response, so header and overall timeouts sit above it.
func BuildHTTPClient(longPoll time.Duration) *http.Client {
	longPoll = max(longPoll, 0)
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: longPoll + responseSlack,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   longPoll + 4*responseSlack,
		Transport: &dialRetryTransport{base: transport, retries: dialRetries, pause: dialRetryPause},
	}
}

// dialRetryTransport replays a request only when the connection could not be
// established, so a send that may have reached Telegram is never repeated
// here. Other transient failures are left to the sender dispatcher.
type dialRetryTransport struct {
	base    http.RoundTripper
	retries int
	pause   time.Duration
}

func (t *dialRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	for attempt := 1; err != nil && attempt <= t.retries && dialFailed(err); attempt++ {
		if req.Body != nil && req.GetBody == nil {
			return nil, err
		}
		timer := time.NewTimer(t.pause * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			if retry.Body, err = req.GetBody(); err != nil {
				return nil, err
			}
		}
		resp, err = t.base.RoundTrip(retry)
	}
	return resp, err
}

func dialFailed(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
