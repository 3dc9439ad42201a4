package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const (
	oneHour           = 60 * 60
	payloadCacheTTL   = oneHour * 1
	statsPath         = "/usersummary-service/usersummary/daily"
	sleepPath         = "/wellness-service/wellness/dailySleepData"
	hrvPath           = "/hrv-service/hrv"
	activitiesPath    = "/activitylist-service/activities/search/activities"
	activityPath      = "/activity-service/activity"
	downloadPath      = "/download-service/export"
	userAgent         = "healthsync"
	maxPayloadLogSize = 512
)

// Client talks to the Garmin Connect API. Daily wellness payloads get
// cached for an hour so that a dashboard refresh or a sync retry does
// not hammer the API.
type Client struct {
	apiUrl     string
	session    *Session
	cache      *freecache.Cache
	httpClient *http.Client
}

func NewClient(apiUrl string, session *Session, httpClient *http.Client) *Client {
	megabyte := 1024 * 1024
	cacheSize := 20 * megabyte

	return &Client{
		apiUrl:     strings.TrimSuffix(apiUrl, "/"),
		session:    session,
		cache:      freecache.NewCache(cacheSize),
		httpClient: httpClient,
	}
}

// GetStatsAndBody returns the combined daily wellness and body
// composition summary for the given date (YYYY-MM-DD).
func (c *Client) GetStatsAndBody(ctx context.Context, date string) (healthdata.Payload, error) {
	return c.getDailyPayload(ctx, "stats",
		fmt.Sprintf("%s%s?calendarDate=%s", c.apiUrl, statsPath, url.QueryEscape(date)), date)
}

// GetSleepData returns the raw sleep payload for the given date.
func (c *Client) GetSleepData(ctx context.Context, date string) (healthdata.Payload, error) {
	return c.getDailyPayload(ctx, "sleep",
		fmt.Sprintf("%s%s?date=%s", c.apiUrl, sleepPath, url.QueryEscape(date)), date)
}

// GetHRVData returns the raw heart rate variability payload for the
// given date.
func (c *Client) GetHRVData(ctx context.Context, date string) (healthdata.Payload, error) {
	return c.getDailyPayload(ctx, "hrv",
		fmt.Sprintf("%s%s/%s", c.apiUrl, hrvPath, url.PathEscape(date)), date)
}

func (c *Client) getDailyPayload(ctx context.Context, kind, reqUrl, date string) (payload healthdata.Payload, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "garminClient.get."+kind)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cacheKey := fmt.Sprintf("%s::%s", kind, date)
	if cachedBytes, err := c.cache.Get([]byte(cacheKey)); err == nil {
		log.Tracef("garmin client: %s payload for %s found in cache", kind, date)
		payload = healthdata.Payload{}
		if err = json.Unmarshal(cachedBytes, &payload); err == nil {
			span.SetStatus(codes.Ok, "cache-hit")
			return payload, nil
		}
		log.Errorf("garmin client: unmarshal cached %s payload for %s: %s", kind, date, err)
	}

	respBytes, err := c.getJSON(ctx, reqUrl)
	if err != nil {
		return nil, err
	}

	payload = healthdata.Payload{}
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}

	if err := c.cache.Set([]byte(cacheKey), respBytes, payloadCacheTTL); err != nil {
		log.Errorf("garmin client: cache %s payload for %s: %s", kind, date, err)
	}

	return payload, nil
}

// GetActivities lists recent activities, most recent first.
func (c *Client) GetActivities(ctx context.Context, start, limit int) (activities []healthdata.Payload, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "garminClient.getActivities")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	reqUrl := fmt.Sprintf("%s%s?start=%d&limit=%d", c.apiUrl, activitiesPath, start, limit)
	respBytes, err := c.getJSON(ctx, reqUrl)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(respBytes, &activities); err != nil {
		return nil, fmt.Errorf("unmarshal activities: %w", err)
	}
	return activities, nil
}

// GetActivityDetails returns the detail payload of one activity.
func (c *Client) GetActivityDetails(ctx context.Context, activityID string) (details healthdata.Payload, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "garminClient.getActivityDetails")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	reqUrl := fmt.Sprintf("%s%s/%s", c.apiUrl, activityPath, url.PathEscape(activityID))
	respBytes, err := c.getJSON(ctx, reqUrl)
	if err != nil {
		return nil, err
	}

	details = healthdata.Payload{}
	if err := json.Unmarshal(respBytes, &details); err != nil {
		return nil, fmt.Errorf("unmarshal activity details: %w", err)
	}
	return details, nil
}

// DownloadActivity fetches the activity file in the given format
// (tcx, gpx, kml, csv) and returns the raw bytes.
func (c *Client) DownloadActivity(ctx context.Context, activityID, format string) (data []byte, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "garminClient.downloadActivity")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	reqUrl := fmt.Sprintf("%s%s/%s/activity/%s",
		c.apiUrl, downloadPath, url.PathEscape(strings.ToLower(format)), url.PathEscape(activityID))
	return c.get(ctx, reqUrl)
}

func (c *Client) getJSON(ctx context.Context, reqUrl string) ([]byte, error) {
	respBytes, err := c.get(ctx, reqUrl)
	if err != nil {
		return nil, err
	}
	if len(respBytes) > 0 {
		log.Tracef("garmin client: got %d bytes: %s...", len(respBytes), truncate(respBytes, maxPayloadLogSize))
	}
	return respBytes, nil
}

func (c *Client) get(ctx context.Context, reqUrl string) ([]byte, error) {
	if c.session.Expired() {
		if err := c.session.Reload(); err != nil {
			return nil, fmt.Errorf("%w: reload failed: %s", ErrTokenExpired, err)
		}
		if c.session.Expired() {
			return nil, ErrTokenExpired
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.session.AuthHeader())
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBytes, maxPayloadLogSize))
	}
	return respBytes, nil
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit])
}
