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

package request

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds every upstream call. A hung clearinghouse socket
// is treated the same as a refusal.
const DefaultTimeout = 30 * time.Second

// ToJsonReq serializes a payload into a buffer ready to be used as a JSON
// request body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// Call sends the request with the default timeout and decodes the JSON
// response body into response. The raw *http.Response is returned so the
// caller can inspect the status code.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: DefaultTimeout}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return resp, err
	}
	return resp, err
}

// CallWithRetry sends the request with short exponential backoff on
// transport errors and 5xx responses. 4xx responses are returned
// immediately; retrying a rejected request does not make it valid.
func CallWithRetry(req *http.Request, response interface{}, maxElapsed time.Duration) (*http.Response, error) {
	var resp *http.Response

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = maxElapsed

	operation := func() error {
		var err error
		resp, err = Call(cloneRequest(req), response)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(fmt.Errorf("upstream rejected request with %d", resp.StatusCode))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, req.Context())); err != nil {
		return resp, errors.Wrap(err, "request failed after retries")
	}
	return resp, nil
}

// cloneRequest makes the request safe to re-send. Bodies are buffered by
// the callers through ToJsonReq, so GetBody is available for replays.
func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err == nil {
			clone.Body = body
		}
	}
	return clone
}

// BasicAuth builds the base64 credential half of a Basic auth header.
func BasicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
