// Package openrouteservice implements routing.Provider on the OpenRouteService
// directions API.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/provider/resilience"
	"github.com/breatheroute/navcore/internal/routing"
)

const (
	// ProviderName identifies the backend in logs, metrics and readiness.
	ProviderName = "openrouteservice"

	DefaultBaseURL = "https://api.openrouteservice.org"
	DefaultTimeout = 10 * time.Second

	maxReplyBytes = 8 << 20
)

// HTTPDoer sends HTTP requests. *resilience.Client implements it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey  string
	BaseURL string

	// Language of instruction texts (default: en).
	Language string

	// HTTPClient replaces the resilient client built from the fields below.
	HTTPClient HTTPDoer

	Timeout        time.Duration
	Registry       *resilience.Registry
	TracerProvider trace.TracerProvider

	Logger zerolog.Logger
}

// Client requests directions from OpenRouteService.
type Client struct {
	apiKey   string
	baseURL  string
	language string
	http     HTTPDoer
	logger   zerolog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		language: cfg.Language,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.language == "" {
		c.language = "en"
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = resilience.NewClient(resilience.ClientConfig{
			Name:           ProviderName,
			Timeout:        timeout,
			Registry:       cfg.Registry,
			TracerProvider: cfg.TracerProvider,
			Logger:         cfg.Logger,
		})
	}
	return c
}

// Name implements routing.Provider.
func (c *Client) Name() string { return ProviderName }

// SupportedProfiles implements routing.Provider.
func (c *Client) SupportedProfiles() []routing.RouteProfile {
	return []routing.RouteProfile{routing.ProfileWalk, routing.ProfileBike, routing.ProfileDrive}
}

// GetDirections implements routing.Provider. Alternatives are only requested
// without waypoints, since ORS rejects them otherwise.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if err := req.Validate(ProviderName); err != nil {
		return nil, err
	}

	body := directionsBody{
		Instructions: true,
		Geometry:     true,
		Units:        "m",
		Language:     c.language,
	}
	for _, c := range req.Coordinates() {
		body.Coordinates = append(body.Coordinates, c.Point())
	}
	if len(req.Waypoints) == 0 {
		n := req.MaxAlternatives
		if n <= 0 {
			n = 2
		}
		body.Alternatives = &alternatives{TargetCount: n + 1}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding directions request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/directions/"+string(req.Profile), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building directions request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     codeFor(err),
			Message:  "routing provider unreachable",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "READ_FAILED",
			Message:  "reading directions reply",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, replyError(resp.StatusCode, raw)
	}

	var reply directionsReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "DECODE_FAILED",
			Message:  "directions reply is not valid JSON",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	if len(reply.Routes) == 0 {
		return nil, &routing.Error{Provider: ProviderName, Code: "NO_ROUTE", Message: "reply contains no routes", Err: routing.ErrNoRouteFound}
	}

	out := &routing.DirectionsResponse{Provider: ProviderName, FetchedAt: time.Now()}
	for i := range reply.Routes {
		out.Routes = append(out.Routes, toRoute(&reply.Routes[i]))
	}

	c.logger.Debug().
		Str("profile", string(req.Profile)).
		Int("coordinates", len(body.Coordinates)).
		Int("routes", len(out.Routes)).
		Dur("duration", time.Since(start)).
		Msg("directions received")
	return out, nil
}

func codeFor(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "CIRCUIT_OPEN"
	}
	return "REQUEST_FAILED"
}

// replyError maps a non-200 reply to a routing.Error.
func replyError(status int, raw []byte) error {
	var reply errorReply
	_ = json.Unmarshal(raw, &reply)
	msg := reply.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("routing provider returned status %d", status)
	}
	e := &routing.Error{Provider: ProviderName, Code: "HTTP_" + strconv.Itoa(status), Message: msg}

	switch {
	case status == http.StatusTooManyRequests:
		e.Code, e.Err = "RATE_LIMIT", routing.ErrRateLimitExceeded
	case reply.Error.Code == codeRouteNotFound, reply.Error.Code == codePointNotFound, status == http.StatusNotFound:
		e.Code, e.Err = "NO_ROUTE", routing.ErrNoRouteFound
	case reply.Error.Code == codeLimitExceeded:
		e.Code, e.Err = "LIMIT_EXCEEDED", routing.ErrNoRouteFound
	case reply.Error.Code == codeInvalidParameter, status == http.StatusBadRequest:
		e.Code, e.Err = "BAD_REQUEST", routing.ErrInvalidCoordinates
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Code, e.Err = "FORBIDDEN", routing.ErrProviderUnavailable
		e.Message = "routing provider rejected the API key"
	default:
		e.Err = routing.ErrProviderUnavailable
	}
	return e
}

func toRoute(r *replyRoute) routing.Route {
	out := routing.Route{
		GeometryPolyline: r.Geometry,
		DistanceMeters:   r.Summary.Distance,
		DurationSeconds:  r.Summary.Duration,
	}
	if len(r.BBox) >= 4 {
		out.Bounds = &orb.Bound{Min: orb.Point{r.BBox[0], r.BBox[1]}, Max: orb.Point{r.BBox[2], r.BBox[3]}}
	}
	for _, seg := range r.Segments {
		leg := routing.Leg{DistanceMeters: seg.Distance, DurationSeconds: seg.Duration}
		for _, st := range seg.Steps {
			leg.Instructions = append(leg.Instructions, toInstruction(st))
		}
		out.Legs = append(out.Legs, leg)
	}
	out.Summary = summarize(out.Instructions())
	return out
}

func toInstruction(st replyStep) routing.Instruction {
	in := routing.Instruction{
		Text:            st.Instruction,
		DistanceMeters:  st.Distance,
		DurationSeconds: st.Duration,
		Type:            st.Type,
		ExitNumber:      st.ExitNumber,
	}
	// "-" marks an unnamed way.
	if st.Name != "-" {
		in.Name = st.Name
	}
	if len(st.WayPoints) == 2 {
		in.WayPoints = [2]int{st.WayPoints[0], st.WayPoints[1]}
	}
	return in
}

// summarize names a route after the street it follows longest.
func summarize(instructions []routing.Instruction) string {
	byName := make(map[string]float64)
	var best string
	for _, in := range instructions {
		if in.Name == "" {
			continue
		}
		byName[in.Name] += in.DistanceMeters
		if best == "" || byName[in.Name] > byName[best] {
			best = in.Name
		}
	}
	if best == "" {
		return ""
	}
	return "via " + best
}
