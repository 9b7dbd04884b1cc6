package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// maxResponseBytes caps REST response bodies.
const maxResponseBytes = 32 << 20

// RESTConfig holds the ThingsBoard connection and query settings.
type RESTConfig struct {
	BaseURL  string
	Username string
	Password string
	DeviceID string
	Keys     []string
	Limit    int
	Range    time.Duration // look-back window used by Fetch
	Timeout  time.Duration
}

// RESTConfigFrom builds a RESTConfig from the recorder configuration.
func RESTConfigFrom(cfg *config.Config) RESTConfig {
	return RESTConfig{
		BaseURL:  cfg.ThingsBoard.BaseURL(),
		Username: cfg.ThingsBoard.Username,
		Password: cfg.ThingsBoard.Password,
		DeviceID: cfg.ThingsBoard.DeviceID,
		Keys:     cfg.Telemetry.Keys,
		Limit:    cfg.Telemetry.Limit,
		Range:    cfg.Telemetry.Range,
		Timeout:  cfg.ThingsBoard.Timeout,
	}
}

// RESTSource reads device timeseries from a ThingsBoard instance.
type RESTSource struct {
	cfg        RESTConfig
	client     *http.Client
	normalizer *core.Normalizer
	now        func() time.Time

	mu    sync.Mutex
	token string
}

// NewREST creates a REST source. A nil client gets one with cfg.Timeout
// (default 5s).
func NewREST(cfg RESTConfig, client *http.Client) *RESTSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10000
	}
	if cfg.Range <= 0 {
		cfg.Range = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RESTSource{
		cfg:        cfg,
		client:     client,
		normalizer: core.NewNormalizer(core.PassthroughSchema(cfg.Keys), nil, nil),
		now:        time.Now,
	}
}

// Describe implements core.Source.
func (s *RESTSource) Describe() core.SourceDescriptor {
	return core.SourceDescriptor{Stream: s.cfg.DeviceID, Kind: config.SourceREST}
}

// Keys returns the requested telemetry keys in order.
func (s *RESTSource) Keys() []core.Key {
	return s.normalizer.Schema().Keys()
}

// Login obtains a session token. Missing credentials and rejected logins
// wrap core.ErrAuth.
func (s *RESTSource) Login(ctx context.Context) (string, error) {
	logger := logging.WithFields(ctx, "source", config.SourceREST, "url", s.cfg.BaseURL)

	if s.cfg.Username == "" || s.cfg.Password == "" {
		return "", fmt.Errorf("rest login: %w: username and password are required", core.ErrAuth)
	}

	body, err := json.Marshal(map[string]string{
		"username": s.cfg.Username,
		"password": s.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("rest login: %w", err)
	}

	logger.Debug("login attempt", "username", s.cfg.Username)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rest login: %w: %v", core.ErrConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn("login failed", "error", err)
		return "", fmt.Errorf("rest login: %w: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := statusError("rest login", resp); err != nil {
		logger.Warn("login rejected", "status", resp.StatusCode)
		return "", err
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("rest login: %w: %v", core.ErrParse, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("rest login: %w: empty token in response", core.ErrAuth)
	}

	s.mu.Lock()
	s.token = out.Token
	s.mu.Unlock()

	logger.Info("login succeeded")
	return out.Token, nil
}

// Check implements core.Checker by logging in.
func (s *RESTSource) Check(ctx context.Context) error {
	_, err := s.Login(ctx)
	return err
}

// FetchRange implements core.RangeSource. Rows are pivoted by timestamp and
// returned in ascending order; keys follow the configured order.
func (s *RESTSource) FetchRange(ctx context.Context, start, end time.Time) ([]core.Row, []core.Key, error) {
	if s.cfg.DeviceID == "" {
		return nil, nil, fmt.Errorf("rest fetch: %w: DEVICE_ID is not set", core.ErrConfig)
	}
	if len(s.cfg.Keys) == 0 {
		return nil, nil, fmt.Errorf("rest fetch: %w: no telemetry keys configured", core.ErrConfig)
	}

	logger := logging.WithFields(ctx, "source", config.SourceREST, "device_id", s.cfg.DeviceID)

	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	resp, err := s.getTimeseries(ctx, token, start, end)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		logger.Info("token rejected, logging in again")
		if token, err = s.Login(ctx); err != nil {
			return nil, nil, err
		}
		resp, err = s.getTimeseries(ctx, token, start, end)
	}
	if err != nil {
		logger.Warn("timeseries request failed", "error", err)
		return nil, nil, fmt.Errorf("rest fetch: %w: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := statusError("rest fetch", resp); err != nil {
		logger.Warn("timeseries request rejected", "status", resp.StatusCode)
		return nil, nil, err
	}

	var series map[string][]struct {
		Ts    int64           `json:"ts"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&series); err != nil {
		return nil, nil, fmt.Errorf("rest fetch: %w: %v", core.ErrParse, err)
	}

	byTime := make(map[int64]core.RawFields)
	for key, points := range series {
		for _, p := range points {
			v, ok := numericValue(p.Value)
			if !ok {
				continue
			}
			raw, exists := byTime[p.Ts]
			if !exists {
				raw = make(core.RawFields)
				byTime[p.Ts] = raw
			}
			raw[key] = core.Quantity{Value: v}
		}
	}

	stamps := make([]int64, 0, len(byTime))
	for ts := range byTime {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	rows := make([]core.Row, 0, len(stamps))
	for _, ts := range stamps {
		m := s.normalizer.Normalize(byTime[ts])
		if m.IsEmpty() {
			continue
		}
		rows = append(rows, core.Row{Time: time.UnixMilli(ts), Measurement: m})
	}

	logger.Info("timeseries fetched", "rows", len(rows), "keys", len(series))
	return rows, s.Keys(), nil
}

// Fetch implements core.Source. It queries the look-back window and returns
// the newest row.
func (s *RESTSource) Fetch(ctx context.Context) (core.Measurement, bool, error) {
	end := s.now()
	rows, _, err := s.FetchRange(ctx, end.Add(-s.cfg.Range), end)
	if errors.Is(err, core.ErrNotFound) {
		return core.Measurement{}, false, nil
	}
	if err != nil {
		return core.Measurement{}, false, err
	}
	if len(rows) == 0 {
		return core.Measurement{}, false, nil
	}
	return rows[len(rows)-1].Measurement, true, nil
}

func (s *RESTSource) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return s.Login(ctx)
}

func (s *RESTSource) getTimeseries(ctx context.Context, token string, start, end time.Time) (*http.Response, error) {
	q := url.Values{}
	q.Set("keys", strings.Join(s.cfg.Keys, ","))
	q.Set("startTs", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTs", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(s.cfg.Limit))
	q.Set("agg", "NONE")

	endpoint := fmt.Sprintf("%s/api/plugins/telemetry/DEVICE/%s/values/timeseries?%s",
		s.cfg.BaseURL, url.PathEscape(s.cfg.DeviceID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return s.client.Do(req)
}

// statusError maps a non-2xx response to an error kind.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(snippet))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: status %d %s", op, core.ErrAuth, resp.StatusCode, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: status %d %s", op, core.ErrNotFound, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%s: %w: status %d %s", op, core.ErrTransport, resp.StatusCode, detail)
	}
}

// numericValue accepts a JSON number or a string holding one.
func numericValue(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	return core.ParseNumber(s)
}
