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

package pulp

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/config"
	"github.com/pulphealth/pulp/internal/request"
)

// WebhookEvent is the envelope posted to the practice's webhook endpoint.
type WebhookEvent struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// RetryDeadLetterEvent is the payload for EventRetryDeadLettered. It carries
// only routing metadata; the patient payload stays sealed in the store.
type RetryDeadLetterEvent struct {
	RetryID        string    `json:"retry_id"`
	PracticeID     string    `json:"practice_id"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

const EventRetryDeadLettered = "retry.dead_lettered"

// processWebhook posts an event to the configured webhook url with the
// configured headers. An unset url makes this a no-op so practices opt in
// through config alone.
func processWebhook(event string, payload interface{}) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	body, err := request.ToJsonReq(&WebhookEvent{Event: event, Payload: payload})
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	if _, err := request.Call(req, &response); err != nil {
		return err
	}
	logrus.Infof("webhook %s delivered to %s", event, conf.Notification.Webhook.Url)
	return nil
}
