// Package fetch retrieves tiles over HTTP with bounded concurrency, a global
// request rate limit and per-tile retries. Failures are reported per tile as
// data; Fetch itself never fails.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tilearchive/internal/tile"
)

// Defaults used when an Options field is left zero.
const (
	DefaultConcurrency = 5
	DefaultRateLimit   = 10.0
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 2
	DefaultBackoff     = time.Second
	DefaultUserAgent   = "WebMapArchiver/1.0"
)

// Status classifies the result of fetching one tile.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusAuthRequired
	StatusTransientError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusAuthRequired:
		return "auth required"
	default:
		return "transient error"
	}
}

// Outcome is the result for one requested coordinate.
type Outcome struct {
	Coord      tile.Coord
	Data       []byte
	Status     Status
	HTTPStatus int
	Err        error
	Attempts   int
}

// OK reports whether the tile was retrieved.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// Reason describes a failed outcome.
func (o Outcome) Reason() string {
	switch {
	case o.Status == StatusOK:
		return ""
	case o.Err != nil:
		return o.Err.Error()
	case o.HTTPStatus != 0:
		return fmt.Sprintf("%s (HTTP %d)", o.Status, o.HTTPStatus)
	default:
		return o.Status.String()
	}
}

// Progress is reported once per finished coordinate, in completion order.
type Progress struct {
	Completed int
	Total     int
	Coord     tile.Coord
	Status    Status
}

// Options configures a Fetcher. Zero fields take the package defaults; a
// negative RateLimit disables rate limiting and a negative MaxRetries
// disables retries.
type Options struct {
	Concurrency int
	RateLimit   float64
	Timeout     time.Duration
	MaxRetries  int
	Backoff     time.Duration
	UserAgent   string
	Logger      logrus.FieldLogger
	OnProgress  func(Progress)
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RateLimit == 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Fetcher downloads tiles from a URL template.
type Fetcher struct {
	opts    Options
	client  *resty.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// New returns a Fetcher. The rate limiter is shared by every Fetch call made
// through the same Fetcher.
func New(opts Options) *Fetcher {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	client := resty.New().
		SetHeader("User-Agent", opts.UserAgent).
		SetLogger(opts.Logger)
	return &Fetcher{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		log:     opts.Logger,
	}
}

// Fetch downloads every coordinate and returns one Outcome per input, at the
// same index. When ctx is cancelled no new requests are issued; requests
// already in flight run to completion or to their own timeout, and the
// coordinates never tried are reported as transient errors carrying the
// context error.
func (f *Fetcher) Fetch(ctx context.Context, template tile.URLTemplate, coords []tile.Coord) []Outcome {
	outcomes := make([]Outcome, len(coords))
	if len(coords) == 0 {
		return outcomes
	}

	jobs := make(chan int, len(coords))
	for i := range coords {
		jobs <- i
	}
	close(jobs)

	var (
		mu        sync.Mutex
		completed int
	)
	done := func(i int) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if f.opts.OnProgress != nil {
			f.opts.OnProgress(Progress{
				Completed: completed,
				Total:     len(coords),
				Coord:     coords[i],
				Status:    outcomes[i].Status,
			})
		}
	}

	var g errgroup.Group
	for w := 0; w < min(f.opts.Concurrency, len(coords)); w++ {
		g.Go(func() error {
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					outcomes[i] = Outcome{Coord: coords[i], Status: StatusTransientError, Err: err}
				} else {
					outcomes[i] = f.fetchTile(ctx, template.Expand(coords[i]), coords[i])
				}
				done(i)
			}
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (f *Fetcher) fetchTile(ctx context.Context, url string, c tile.Coord) Outcome {
	out := Outcome{Coord: c}
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := f.waitForRetry(ctx, attempt); err != nil {
				return out
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			if out.Err == nil {
				out.Status, out.Err = StatusTransientError, err
			}
			return out
		}

		out.Attempts++
		out.Data, out.HTTPStatus, out.Err = nil, 0, nil
		out.Status = f.attempt(ctx, url, &out)
		if out.Status != StatusTransientError {
			return out
		}
		f.log.WithField("tile", c.String()).Debugf("fetch %s attempt %d error %v", url, out.Attempts, out.Err)
	}
	return out
}

// attempt issues one request. The request keeps running when ctx is
// cancelled and is bounded by the per-attempt timeout instead.
func (f *Fetcher) attempt(ctx context.Context, url string, out *Outcome) Status {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
	defer cancel()

	resp, err := f.client.R().SetContext(reqCtx).Get(url)
	if err != nil {
		out.Err = err
		return StatusTransientError
	}
	out.HTTPStatus = resp.StatusCode()
	switch code := resp.StatusCode(); {
	case code == http.StatusOK && len(resp.Body()) > 0:
		out.Data = resp.Body()
		return StatusOK
	case code == http.StatusOK, code == http.StatusNoContent, code == http.StatusNotFound:
		return StatusNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return StatusAuthRequired
	default:
		out.Err = fmt.Errorf("HTTP %d", code)
		return StatusTransientError
	}
}

// waitForRetry sleeps Backoff times the attempt number, or until ctx ends.
func (f *Fetcher) waitForRetry(ctx context.Context, attempt int) error {
	t := time.NewTimer(f.opts.Backoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maxErrors bounds Summary.Errors.
const maxErrors = 10

// Summary aggregates outcomes.
type Summary struct {
	Requested    int
	Fetched      int
	NotFound     int
	AuthRequired int
	Failed       int
	// Cancelled counts the failed tiles for which no request was issued.
	Cancelled int
	// Errors holds up to ten "z/x/y: reason" lines for failed tiles.
	Errors []string
}

// Unfetched is the number of requested tiles that were not retrieved.
func (s Summary) Unfetched() int {
	return s.Requested - s.Fetched
}

// SuccessRate is the fetched percentage of requested tiles, 100 when
// nothing was requested.
func (s Summary) SuccessRate() float64 {
	if s.Requested == 0 {
		return 100
	}
	return float64(s.Fetched) / float64(s.Requested) * 100
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Requested: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusOK:
			s.Fetched++
			continue
		case StatusNotFound:
			s.NotFound++
		case StatusAuthRequired:
			s.AuthRequired++
		default:
			s.Failed++
			if o.Attempts == 0 {
				s.Cancelled++
			}
		}
		if len(s.Errors) < maxErrors {
			s.Errors = append(s.Errors, fmt.Sprintf("%s: %s", o.Coord, o.Reason()))
		}
	}
	return s
}

// Records returns the retrieved tiles in input order.
func Records(outcomes []Outcome) []tile.Record {
	var records []tile.Record
	for _, o := range outcomes {
		if o.OK() {
			records = append(records, tile.Record{Coord: o.Coord, Data: o.Data})
		}
	}
	return records
}
