package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/studio-gateway/internal/metrics"
	"github.com/JakeFAU/studio-gateway/internal/studio"
)

const (
	tracerName          = "github.com/JakeFAU/studio-gateway/internal/lightning"
	defaultBaseURL      = "https://lightning.ai"
	defaultMachine      = "CPU"
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://lightning.ai.
	BaseURL string
	// WebURL prefixes studio URLs handed back to callers. Defaults to BaseURL.
	WebURL    string
	Timeout   time.Duration
	UserAgent string
	// Machine is the compute config requested when starting a studio.
	Machine string
	// WaitRunning makes StartStudio poll until the instance is running.
	WaitRunning  bool
	PollInterval time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
	// Limiter, when set, throttles operations per caller user ID.
	Limiter Limiter
	// MeterProvider records operation durations. Defaults to the global one.
	MeterProvider metric.MeterProvider
}

// Limiter gates operations per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Client talks to the Lightning cloud API. It is safe for concurrent use.
type Client struct {
	baseURL      string
	webURL       string
	userAgent    string
	machine      string
	waitRunning  bool
	pollInterval time.Duration
	http         *http.Client
	limiter      Limiter
	tracer       trace.Tracer
	opDuration   metric.Float64Histogram
}

// New builds a Client, filling unset fields with defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WebURL == "" {
		cfg.WebURL = cfg.BaseURL
	}
	if cfg.Machine == "" {
		cfg.Machine = defaultMachine
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	metrics.Init()
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	opDuration, err := mp.Meter(tracerName).Float64Histogram(
		"lightning.studio.operation.duration",
		metric.WithDescription("Duration of studio start and stop operations, including polling."),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		webURL:       strings.TrimRight(cfg.WebURL, "/"),
		userAgent:    cfg.UserAgent,
		machine:      cfg.Machine,
		waitRunning:  cfg.WaitRunning,
		pollInterval: cfg.PollInterval,
		http:         httpClient,
		limiter:      cfg.Limiter,
		tracer:       otel.Tracer(tracerName),
		opDuration:   opDuration,
	}
}

// StartStudio resolves the teamspace, creates the studio when it does not
// exist yet, and starts it.
func (c *Client) StartStudio(ctx context.Context, creds studio.Credentials, ref studio.Ref) (studio.Studio, error) {
	ctx, span := c.tracer.Start(ctx, "lightning.StartStudio", trace.WithAttributes(
		attribute.String("studio.name", ref.Name),
		attribute.String("studio.teamspace", ref.Teamspace),
	))
	defer span.End()

	start := time.Now()
	st, err := c.startStudio(ctx, creds, ref)
	c.recordOperation(ctx, "start", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return studio.Studio{}, err
	}
	span.SetAttributes(attribute.String("studio.id", st.ID))
	return st, nil
}

func (c *Client) startStudio(ctx context.Context, creds studio.Credentials, ref studio.Ref) (studio.Studio, error) {
	token, err := c.login(ctx, creds)
	if err != nil {
		return studio.Studio{}, err
	}
	team, err := c.findTeamspace(ctx, token, ref.Teamspace, ref.User)
	if err != nil {
		return studio.Studio{}, err
	}
	space, err := c.findOrCreateCloudSpace(ctx, token, team.ProjectID, ref.Name)
	if err != nil {
		return studio.Studio{}, err
	}

	startPath := fmt.Sprintf("/v1/projects/%s/cloudspaces/%s/start",
		url.PathEscape(team.ProjectID), url.PathEscape(space.ID))
	body := startRequest{ComputeConfig: computeConfig{Name: c.machine}}
	if err := c.do(ctx, "start", http.MethodPost, startPath, token, body, nil); err != nil {
		return studio.Studio{}, err
	}

	status := PhasePending
	if c.waitRunning {
		status, err = c.waitForPhase(ctx, token, team.ProjectID, space.ID)
		if err != nil {
			return studio.Studio{}, err
		}
	}

	user := ref.User
	if user == "" {
		user = team.OwnerName
	}
	return studio.Studio{
		ID:          space.ID,
		Name:        ref.Name,
		Teamspace:   ref.Teamspace,
		User:        user,
		TeamspaceID: team.ProjectID,
		Status:      status,
		Machine:     c.machine,
		URL:         c.studioURL(user, ref.Teamspace, ref.Name),
		CreatedAt:   space.CreatedAt,
	}, nil
}

// StopStudio looks the studio up by ID and stops it.
func (c *Client) StopStudio(ctx context.Context, creds studio.Credentials, studioID string) error {
	ctx, span := c.tracer.Start(ctx, "lightning.StopStudio", trace.WithAttributes(
		attribute.String("studio.id", studioID),
	))
	defer span.End()

	start := time.Now()
	err := c.stopStudio(ctx, creds, studioID)
	c.recordOperation(ctx, "stop", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) stopStudio(ctx context.Context, creds studio.Credentials, studioID string) error {
	token, err := c.login(ctx, creds)
	if err != nil {
		return err
	}
	var space cloudSpace
	if err := c.do(ctx, "get cloudspace", http.MethodGet,
		"/v1/cloudspaces/"+url.PathEscape(studioID), token, nil, &space); err != nil {
		return err
	}
	if space.ProjectID == "" {
		return notFound("get cloudspace", fmt.Sprintf("studio %s has no teamspace", studioID))
	}
	stopPath := fmt.Sprintf("/v1/projects/%s/cloudspaces/%s/stop",
		url.PathEscape(space.ProjectID), url.PathEscape(studioID))
	return c.do(ctx, "stop", http.MethodPost, stopPath, token, struct{}{}, nil)
}

func (c *Client) recordOperation(ctx context.Context, op string, start time.Time, err error) {
	if c.opDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.opDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (c *Client) login(ctx context.Context, creds studio.Credentials) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, creds.UserID); err != nil {
			return "", err
		}
	}
	var resp loginResponse
	req := loginRequest{Username: creds.UserID, APIKey: creds.APIKey}
	if err := c.do(ctx, "login", http.MethodPost, "/v1/auth/login", "", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &APIError{Op: "login", StatusCode: http.StatusUnauthorized, Message: "authentication returned no token"}
	}
	return resp.Token, nil
}

func (c *Client) findTeamspace(ctx context.Context, token, teamspace, owner string) (membership, error) {
	var list membershipList
	if err := c.do(ctx, "list memberships", http.MethodGet, "/v1/memberships", token, nil, &list); err != nil {
		return membership{}, err
	}
	for _, m := range list.Memberships {
		if m.Name != teamspace && m.DisplayName != teamspace {
			continue
		}
		if owner != "" && m.OwnerName != "" && m.OwnerName != owner {
			continue
		}
		return m, nil
	}
	if owner != "" {
		return membership{}, notFound("list memberships",
			fmt.Sprintf("teamspace %s owned by %s not found", teamspace, owner))
	}
	return membership{}, notFound("list memberships", fmt.Sprintf("teamspace %s not found", teamspace))
}

func (c *Client) findOrCreateCloudSpace(ctx context.Context, token, projectID, name string) (cloudSpace, error) {
	base := "/v1/projects/" + url.PathEscape(projectID) + "/cloudspaces"

	var list cloudSpaceList
	query := url.Values{"name": []string{name}}
	if err := c.do(ctx, "list cloudspaces", http.MethodGet, base+"?"+query.Encode(), token, nil, &list); err != nil {
		return cloudSpace{}, err
	}
	for _, space := range list.CloudSpaces {
		if space.Name == name {
			return space, nil
		}
	}

	var created cloudSpace
	req := createCloudSpaceRequest{Name: name, DisplayName: name}
	if err := c.do(ctx, "create cloudspace", http.MethodPost, base, token, req, &created); err != nil {
		return cloudSpace{}, err
	}
	if created.ID == "" {
		return cloudSpace{}, &APIError{Op: "create cloudspace", StatusCode: http.StatusBadGateway,
			Message: fmt.Sprintf("backend created studio %s without an id", name)}
	}
	return created, nil
}

func (c *Client) waitForPhase(ctx context.Context, token, projectID, spaceID string) (string, error) {
	path := fmt.Sprintf("/v1/projects/%s/cloudspaces/%s/instance",
		url.PathEscape(projectID), url.PathEscape(spaceID))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for studio %s: %w", spaceID, ctx.Err())
		case <-timer.C:
		}
		var status instanceStatus
		if err := c.do(ctx, "get instance", http.MethodGet, path, token, nil, &status); err != nil {
			return "", err
		}
		switch status.Phase {
		case PhaseRunning:
			return status.Phase, nil
		case PhaseFailed:
			msg := status.Message
			if msg == "" {
				msg = fmt.Sprintf("studio %s failed to start", spaceID)
			}
			return "", &APIError{Op: "get instance", StatusCode: http.StatusConflict, Message: msg}
		}
		timer.Reset(c.pollInterval)
	}
}

func (c *Client) studioURL(user, teamspace, name string) string {
	return fmt.Sprintf("%s/%s/%s/studios/%s", c.webURL,
		url.PathEscape(user), url.PathEscape(teamspace), url.PathEscape(name))
}

// do sends one JSON request. body and out may be nil.
func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveBackendCall(op, 0, time.Since(start))
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ObserveBackendCall(op, resp.StatusCode, time.Since(start))
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
