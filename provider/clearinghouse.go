/*
Copyright 2025 Pulp Health Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/pulphealth/pulp/config"
	"github.com/pulphealth/pulp/internal/request"
)

// dentalServiceType is the X12 service type code for dental care
// eligibility inquiries.
const dentalServiceType = "35"

// HTTPClearinghouse runs real-time 270/271 eligibility checks against a
// clearinghouse HTTP API.
type HTTPClearinghouse struct {
	name string
	cfg  config.ClearinghouseConfig
}

func NewHTTPClearinghouse(name string, cfg config.ClearinghouseConfig) *HTTPClearinghouse {
	return &HTTPClearinghouse{name: name, cfg: cfg}
}

func (c *HTTPClearinghouse) Name() string {
	return c.name
}

// FetchEligibility posts the 270 inquiry and returns the carrier's raw
// 271 payload undecoded beyond JSON. Retries ride on the shared request
// helper; a 4xx is returned immediately.
func (c *HTTPClearinghouse) FetchEligibility(ctx context.Context, req EligibilityRequest) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"tradingPartnerServiceId": req.PayerID,
		"subscriber": map[string]interface{}{
			"firstName":   req.FirstName,
			"lastName":    req.LastName,
			"memberId":    req.MemberID,
			"dateOfBirth": req.DateOfBirth,
		},
		"provider": map[string]interface{}{
			"npi":              c.cfg.ProviderNPI,
			"organizationName": c.cfg.OrganizationName,
		},
		"serviceType": dentalServiceType,
	}

	body, err := request.ToJsonReq(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode eligibility inquiry")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HttpService.Url, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build eligibility request")
	}
	if auth := c.cfg.HttpService.Headers.Authorization; auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}

	var raw map[string]interface{}
	resp, err := request.CallWithRetry(httpReq, &raw, c.timeout())
	if err != nil {
		return nil, errors.Wrapf(err, "eligibility check against %s failed", c.name)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("eligibility check against %s returned %d", c.name, resp.StatusCode)
	}
	return raw, nil
}

func (c *HTTPClearinghouse) timeout() time.Duration {
	if c.cfg.HttpService.Timeout > 0 {
		return time.Duration(c.cfg.HttpService.Timeout) * time.Second
	}
	return request.DefaultTimeout
}

// FixtureClearinghouse serves canned 271 payloads keyed by member id.
// It backs demo practices and doubles as the offline fallback source
// when every live clearinghouse is down.
type FixtureClearinghouse struct {
	name     string
	fixtures map[string]map[string]interface{}
}

func NewFixtureClearinghouse(name string, fixtures map[string]map[string]interface{}) *FixtureClearinghouse {
	return &FixtureClearinghouse{name: name, fixtures: fixtures}
}

func (f *FixtureClearinghouse) Name() string {
	return f.name
}

var ErrNoFixture = errors.New("no fixture for member")

func (f *FixtureClearinghouse) FetchEligibility(_ context.Context, req EligibilityRequest) (map[string]interface{}, error) {
	fixture, ok := f.fixtures[req.MemberID]
	if !ok {
		return nil, errors.Wrapf(ErrNoFixture, "member %s", req.MemberID)
	}
	return fixture, nil
}
