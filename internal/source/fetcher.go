package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"example.com/biometrics/internal/domain"
)

const maxPages = 10000

var errInvalidPage = errors.New("response is not valid JSON")

// HTTPFetcher reads raw records from GET /v1/records/{category}, following
// next_page_token until the source reports no further pages.
type HTTPFetcher struct {
	c *client
}

// NewHTTPFetcher constructs a fetcher for the data source described by cfg.
func NewHTTPFetcher(cfg Config, opts ...Option) *HTTPFetcher {
	return &HTTPFetcher{c: newClient(cfg, opts...)}
}

// Fetch implements domain.RecordFetcher. Records that fail to decode are
// returned as-is so aggregation can count them as malformed.
func (f *HTTPFetcher) Fetch(ctx context.Context, category domain.Category, start, end time.Time) ([]domain.RawRecord, error) {
	if !category.Valid() {
		return nil, &domain.FetchError{Category: category, Err: domain.ErrUnknownCategory}
	}
	if !start.Before(end) {
		return nil, &domain.FetchError{Category: category, Err: domain.ErrInvalidRange}
	}

	path := "/v1/records/" + url.PathEscape(string(category))
	var (
		records []domain.RawRecord
		token   string
		pages   int
	)
	for {
		query := url.Values{}
		query.Set("start", start.UTC().Format(time.RFC3339Nano))
		query.Set("end", end.UTC().Format(time.RFC3339Nano))
		query.Set("page_size", strconv.Itoa(f.c.pageSize))
		if token != "" {
			query.Set("page_token", token)
		}

		body, err := f.c.get(ctx, path, query)
		if err != nil {
			return nil, &domain.FetchError{Category: category, Err: err}
		}
		if !gjson.ValidBytes(body) {
			return nil, &domain.FetchError{Category: category, Err: errInvalidPage}
		}
		page := gjson.ParseBytes(body)
		page.Get("records").ForEach(func(_, rec gjson.Result) bool {
			records = append(records, decodeRecord(category, rec))
			return true
		})
		pages++

		next := page.Get("next_page_token").String()
		if next == "" {
			break
		}
		if next == token || pages >= maxPages {
			return nil, &domain.FetchError{Category: category, Err: fmt.Errorf("pagination did not terminate after %d pages", pages)}
		}
		token = next
	}

	f.c.logger.WithFields(log.Fields{
		"category": category,
		"records":  len(records),
		"pages":    pages,
	}).Debug("fetched records")
	return records, nil
}

func decodeRecord(category domain.Category, rec gjson.Result) domain.RawRecord {
	switch category.Shape() {
	case domain.ShapeInterval:
		iv := domain.IntervalRecord{
			Start: parseTime(rec.Get("start")),
			End:   parseTime(rec.Get("end")),
		}
		if q := rec.Get("quantity"); q.Exists() && q.Type != gjson.Null {
			v := number(q)
			iv.Quantity = &v
		}
		return iv
	case domain.ShapeSample:
		return domain.SampleRecord{
			Timestamp: parseTime(rec.Get("timestamp")),
			Value:     number(rec.Get("value")),
		}
	default:
		return domain.PointRecord{
			Timestamp: parseTime(rec.Get("timestamp")),
			Quantity:  number(rec.Get("quantity")),
		}
	}
}

// number returns NaN for missing or non-numeric fields so validation rejects them.
func number(r gjson.Result) float64 {
	if r.Type != gjson.Number {
		return math.NaN()
	}
	return r.Float()
}

func parseTime(r gjson.Result) time.Time {
	if r.Type != gjson.String {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, r.String())
	if err != nil {
		return time.Time{}
	}
	return t
}
