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

// HTTPAssistant forwards front-desk questions to the AI assistant
// service together with the deterministic coverage summary it must
// ground its answer on. The assistant never sees raw carrier payloads.
type HTTPAssistant struct {
	cfg config.AssistantConfig
}

func NewHTTPAssistant(cfg config.AssistantConfig) *HTTPAssistant {
	return &HTTPAssistant{cfg: cfg}
}

func (a *HTTPAssistant) Answer(ctx context.Context, question, coverageSummary string) (string, error) {
	if !a.cfg.Enabled {
		return "", errors.New("assistant is not enabled for this deployment")
	}

	body, err := request.ToJsonReq(map[string]string{
		"question": question,
		"context":  coverageSummary,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode assistant request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.HttpService.Url, body)
	if err != nil {
		return "", errors.Wrap(err, "failed to build assistant request")
	}
	if auth := a.cfg.HttpService.Headers.Authorization; auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}

	var response struct {
		Answer string `json:"answer"`
	}
	resp, err := request.CallWithRetry(httpReq, &response, a.timeout())
	if err != nil {
		return "", errors.Wrap(err, "assistant call failed")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.Errorf("assistant returned %d", resp.StatusCode)
	}
	return response.Answer, nil
}

func (a *HTTPAssistant) timeout() time.Duration {
	if a.cfg.HttpService.Timeout > 0 {
		return time.Duration(a.cfg.HttpService.Timeout) * time.Second
	}
	return request.DefaultTimeout
}
