// Package pdp is the policy-decision-point client (spec §4.8, the first
// half of C5's remainder): a simple RPC client exposing
// check(principal, resource, action) against an external PDP. Grounded
// on spec §4.8 directly; implemented as plain HTTP/JSON (not gRPC: a
// gRPC client would need generated protobuf stubs this module cannot
// produce), following the stdlib-`net/http` REST client idiom visible in
// wisbric-nightowl's pkg/mattermost/client.go.
package pdp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	nnerrors "github.com/nnoe/node-agent/internal/errors"
)

// Decision is the PDP's answer to a check request.
type Decision string

const (
	Allow     Decision = "allow"
	Deny      Decision = "deny"
	Transport Decision = "transport_error"
)

type checkRequest struct {
	Principal string `json:"principal"`
	Resource  string `json:"resource"`
	Action    string `json:"action"`
}

type checkResponse struct {
	Decision string `json:"decision"`
}

// Client is the PDP RPC surface spec §4.8 calls for.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	log      logr.Logger
}

// New constructs a Client from the service config.
func New(cfg v1alpha1.PDPServiceConfig, log logr.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		log:      log.WithValues("component", "pdp"),
	}
}

// Check asks the PDP whether principal may perform action on resource.
// A transport failure returns (Transport, a non-nil error); callers
// should treat that as fail-closed per their own policy, since spec §4.8
// itself defines Transport as a distinct outcome rather than an implicit
// deny.
func (c *Client) Check(ctx context.Context, principal, resource, action string) (Decision, error) {
	body, err := json.Marshal(checkRequest{Principal: principal, Resource: resource, Action: action})
	if err != nil {
		return Transport, nnerrors.New(nnerrors.Transport, "pdp", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/check", bytes.NewReader(body))
	if err != nil {
		return Transport, nnerrors.New(nnerrors.Transport, "pdp", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Transport, nnerrors.New(nnerrors.Transport, "pdp", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transport, nnerrors.New(nnerrors.Transport, "pdp", fmt.Errorf("pdp returned status %d", resp.StatusCode))
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transport, nnerrors.New(nnerrors.Transport, "pdp", err)
	}

	switch Decision(out.Decision) {
	case Allow:
		return Allow, nil
	case Deny:
		return Deny, nil
	default:
		return Transport, nnerrors.New(nnerrors.Transport, "pdp", fmt.Errorf("unrecognized decision %q", out.Decision))
	}
}
