// Package restsnapshot fetches REST order-book snapshots from Binance's
// spot, USD-M and COIN-M depth endpoints, for the initial snapshot a
// symbol's book is built from. The book store fetches it once per
// symbol; buffer overflows and continuity gaps do not trigger a refetch.
package restsnapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattice-q/l2book/internal/binancefeed"
	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/circuitbreaker"
	"github.com/lattice-q/l2book/internal/config"
	"github.com/lattice-q/l2book/internal/l2"
	"github.com/lattice-q/l2book/internal/logger"
)

const (
	baseURLSpot  = "https://api.binance.com"
	baseURLUSDM  = "https://fapi.binance.com"
	baseURLCoinM = "https://dapi.binance.com"

	depthPathSpot  = "/api/v3/depth"
	depthPathUSDM  = "/fapi/v1/depth"
	depthPathCoinM = "/dapi/v1/depth"

	defaultTimeout = 10 * time.Second
)

// validLimits is the documented set of accepted "limit" query values
// across all three depth endpoints.
var validLimits = map[int]bool{5: true, 10: true, 20: true, 50: true, 100: true, 500: true, 1000: true, 5000: true}

func baseURLFor(venue config.Venue) string {
	switch venue {
	case config.VenueUSDM:
		return baseURLUSDM
	case config.VenueCoinM:
		return baseURLCoinM
	default:
		return baseURLSpot
	}
}

func depthPathFor(venue config.Venue) string {
	switch venue {
	case config.VenueUSDM:
		return depthPathUSDM
	case config.VenueCoinM:
		return depthPathCoinM
	default:
		return depthPathSpot
	}
}

// Client fetches depth snapshots over REST, circuit-breaker-wrapped so
// a persistently failing venue endpoint trips open instead of burning
// every caller's retry loop hot against a dead host.
type Client struct {
	http    *http.Client
	venue   config.Venue
	baseURL string
	path    string

	breaker *circuitbreaker.Breaker[*l2.UpdatePooled]
	tracer  trace.Tracer
	log     logger.Interface
}

// New builds a Client for the given venue. cbCfg.Name is overridden
// with a venue-qualified name so multiple clients' breakers don't share
// state under log output.
func New(venue config.Venue, cbCfg circuitbreaker.Config, tracer trace.Tracer, log logger.Interface) *Client {
	if log == nil {
		log = logger.Nop{}
	}
	cbCfg.Name = fmt.Sprintf("restsnapshot.%s", venue)

	return &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		venue:   venue,
		baseURL: baseURLFor(venue),
		path:    depthPathFor(venue),
		breaker: circuitbreaker.New[*l2.UpdatePooled](cbCfg, log),
		tracer:  tracer,
		log:     log,
	}
}

// FetchSnapshot retrieves the current depth snapshot for nativeSymbol
// at the given limit (clamped to the nearest valid value below it, or
// the smallest valid value if below all of them) and converts it into
// a snapshot-flagged pooled batch via resolver.
//
// The returned batch's EventTime is the wall-clock time the response
// was received, since the REST depth response carries no event-time
// field of its own.
func (c *Client) FetchSnapshot(ctx context.Context, nativeSymbol string, limit int, resolver binancefeed.SymbolResolver) (*l2.UpdatePooled, error) {
	limit = clampLimit(limit)

	ctx, span := c.tracer.Start(ctx, "restsnapshot.fetch",
		trace.WithAttributes(
			attribute.String("symbol", nativeSymbol),
			attribute.Int("limit", limit),
			attribute.String("venue", string(c.venue)),
		),
	)
	defer span.End()

	batch, err := c.breaker.Execute(func() (*l2.UpdatePooled, error) {
		return c.fetchAndParse(ctx, nativeSymbol, limit, resolver)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.log.Debug(ctx, "fetched depth snapshot", "symbol", nativeSymbol, "levels", batch.Len())
	return batch, nil
}

func (c *Client) fetchAndParse(ctx context.Context, nativeSymbol string, limit int, resolver binancefeed.SymbolResolver) (*l2.UpdatePooled, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.path, nil)
	if err != nil {
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "build depth snapshot request")
	}
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("symbol", nativeSymbol)
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, bookerr.Wrap(bookerr.NetworkTransient, err, "depth snapshot request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bookerr.Wrap(bookerr.NetworkTransient, err, "read depth snapshot response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, bookerr.New(bookerr.NetworkTransient,
			bookerr.WithContext(fmt.Sprintf("depth snapshot: HTTP %d: %s", resp.StatusCode, truncate(body, 256))))
	}

	var probe struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Code < 0 {
		return nil, bookerr.New(bookerr.ProtocolInvalid,
			bookerr.WithContext(fmt.Sprintf("depth snapshot: venue error %d: %s", probe.Code, probe.Msg)))
	}

	return binancefeed.ParseSnapshot(body, resolver, nativeSymbol, time.Now().UnixMilli())
}

func clampLimit(limit int) int {
	if validLimits[limit] {
		return limit
	}
	best := 5
	for l := range validLimits {
		if l <= limit && l > best {
			best = l
		}
	}
	return best
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
