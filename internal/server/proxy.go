package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/config"
	"github.com/sabaki-ai/factgate/internal/payment"
)

// proxyHandler gates an upstream feed behind the same settlement exchange as
// the fact endpoint, then relays the upstream response. The upstream is
// public for the UI; monetization happens here.
func (s *Server) proxyHandler(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var upstreamBase, price string
		switch resource {
		case "feed":
			upstreamBase, price = s.cfg.Upstream.FeedURL, s.cfg.Upstream.FeedPrice
		case "pm":
			upstreamBase, price = s.cfg.Upstream.PMURL, s.cfg.Upstream.PMPrice
		}

		upstreamURL, err := mergeQuery(upstreamBase, c.Request.URL.Query())
		if err != nil {
			abortWithError(c, 500, ErrCodeInternalError, err.Error())
			return
		}

		outcome, err := s.gateway.Settle(c.Request.Context(), payment.SettleRequest{
			ResourceURL:     upstreamURL,
			Method:          c.Request.Method,
			ProofHeader:     c.GetHeader(payment.ProofHeader),
			BypassRequested: c.GetHeader(payment.BypassHeader) == "1",
			Price:           price,
		})
		if err != nil {
			var missing *config.MissingError
			if errors.As(err, &missing) {
				abortMisconfigured(c, missing.Missing)
				return
			}
			abortWithError(c, 500, ErrCodeSettleException, err.Error())
			return
		}
		if !outcome.Settled() {
			writeRejection(c, outcome)
			return
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), "GET", upstreamURL, nil)
		if err != nil {
			abortWithError(c, 500, ErrCodeInternalError, err.Error())
			return
		}
		if accept := c.GetHeader("Accept"); accept != "" {
			req.Header.Set("Accept", accept)
		} else {
			req.Header.Set("Accept", "application/json")
		}

		resp, err := s.upstream.Do(req)
		if err != nil {
			zap.L().Error("upstream request failed",
				zap.String("resource", resource), zap.Error(err))
			abortWithError(c, 502, ErrCodeUpstreamError, err.Error())
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			abortWithError(c, 502, ErrCodeUpstreamError,
				fmt.Sprintf("upstream %s responded with %d", resource, resp.StatusCode))
			return
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			abortWithError(c, 502, ErrCodeUpstreamError, err.Error())
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		for name, value := range outcome.Headers {
			c.Header(name, value)
		}
		c.Header("Cache-Control", "no-store")
		c.Data(200, contentType, body)
	}
}

// mergeQuery overlays the inbound query parameters onto the upstream URL.
func mergeQuery(upstream string, incoming url.Values) (string, error) {
	parsed, err := url.Parse(upstream)
	if err != nil {
		return "", fmt.Errorf("invalid upstream url %q: %w", upstream, err)
	}
	query := parsed.Query()
	for key, values := range incoming {
		if len(values) > 0 {
			query.Set(key, values[0])
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
