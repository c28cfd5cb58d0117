package signaller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// maxAnswerBytes bounds how much of a response body is read. SDP answers
// are a few kilobytes; anything near this limit is garbage.
const maxAnswerBytes = 2 << 20

// exchangeResult is a successful WHIP offer/answer exchange.
type exchangeResult struct {
	// answer is the raw SDP answer body.
	answer string
	// location is the WHIP resource URL from the Location response header,
	// if the endpoint provided one. It addresses the session for teardown.
	location string
}

// whipClient performs the single HTTP POST per peer against the WHIP
// endpoint.
type whipClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func newWHIPClient(endpoint, caFile string, timeout time.Duration, logger *slog.Logger) (*whipClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caFile != "" {
		pool, err := loadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &whipClient{
		endpoint: endpoint,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}, nil
}

// Exchange POSTs the composed offer and returns the parsed answer.
//
// Any 2xx status is success. Failures map to ExchangeError and are never
// retried here; retry policy belongs to the caller.
func (c *whipClient) Exchange(ctx context.Context, peerID, offer string) (exchangeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(offer))
	if err != nil {
		return exchangeResult{}, &ExchangeError{Kind: ExchangeTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.client.Do(req)
	if err != nil {
		return exchangeResult{}, &ExchangeError{Kind: ExchangeTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return exchangeResult{}, &ExchangeError{Kind: ExchangeTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return exchangeResult{}, &ExchangeError{Kind: ExchangeRejected, Status: resp.StatusCode}
	}

	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(string(body)); err != nil {
		return exchangeResult{}, &ExchangeError{Kind: ExchangeMalformedAnswer, Err: err}
	}

	res := exchangeResult{
		answer:   string(body),
		location: resp.Header.Get("Location"),
	}
	if res.location != "" {
		c.logger.Debug("whip resource allocated", "peer", peerID, "location", res.location)
	}
	return res, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca file %s contains no usable certificates", path)
	}
	return pool, nil
}
