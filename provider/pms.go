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
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pulphealth/pulp/config"
	"github.com/pulphealth/pulp/internal/request"
	"github.com/pulphealth/pulp/model"
)

// triageColors maps triage tiers to the integer color values the
// practice management system renders next to the patient's name in the
// appointment book.
var triageColors = map[string]int{
	"CLEAR":    5287936,
	"WARNING":  49151,
	"CRITICAL": 255,
}

// PMSClient talks to the practice management system's HTTP API for
// schedule pulls and chart write-backs.
type PMSClient struct {
	cfg config.PMSConfig
}

func NewPMSClient(cfg config.PMSConfig) *PMSClient {
	return &PMSClient{cfg: cfg}
}

// PullSchedule fetches one day's appointment list for a practice and
// maps it into schedule patients. Records missing identity fields are
// kept; verification decides later what it can do with them.
func (p *PMSClient) PullSchedule(ctx context.Context, practiceID, date string) ([]model.SchedulePatient, error) {
	endpoint := fmt.Sprintf("%s/appointments?officeId=%s&date=%s",
		p.cfg.HttpService.Url, url.QueryEscape(practiceID), url.QueryEscape(date))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build schedule request")
	}
	p.authorize(httpReq)

	var raw interface{}
	resp, err := request.CallWithRetry(httpReq, &raw, p.timeout())
	if err != nil {
		return nil, errors.Wrapf(err, "schedule pull for practice %s failed", practiceID)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("schedule pull for practice %s returned %d", practiceID, resp.StatusCode)
	}

	patients := decodeAppointments(raw)
	logrus.Infof("pulled %d appointment(s) for practice %s on %s", len(patients), practiceID, date)
	return patients, nil
}

// WriteChartNote creates an automated note entry on the patient's
// chart. UserNum 0 marks the entry as a system write.
func (p *PMSClient) WriteChartNote(ctx context.Context, practiceID, patientExternalID, note string) error {
	payload := map[string]interface{}{
		"PatNum":   patientExternalID,
		"OfficeId": practiceID,
		"Note":     note,
		"NoteDate": time.Now().UTC().Format("2006-01-02"),
		"UserNum":  0,
	}
	if err := p.post(ctx, "/patientnotes", payload); err != nil {
		return errors.Wrapf(err, "chart note write for patient %s failed", patientExternalID)
	}
	logrus.Infof("chart note written for patient %s", patientExternalID)
	return nil
}

// SetTriageColor flags the patient in the appointment book with the
// color matching their triage tier. Unknown tiers fall back to the
// warning color rather than failing the write.
func (p *PMSClient) SetTriageColor(ctx context.Context, practiceID, patientExternalID, tier string) error {
	color, ok := triageColors[tier]
	if !ok {
		color = triageColors["WARNING"]
	}
	payload := map[string]interface{}{
		"OfficeId":           practiceID,
		"AddrNote":           fmt.Sprintf("Pulp Triage: %s", tier),
		"PreferRecallMethod": color,
	}
	return p.post(ctx, fmt.Sprintf("/patients/%s/flag", url.PathEscape(patientExternalID)), payload)
}

func (p *PMSClient) post(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.HttpService.Url+path, body)
	if err != nil {
		return err
	}
	p.authorize(httpReq)

	var response map[string]interface{}
	resp, err := request.CallWithRetry(httpReq, &response, p.timeout())
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("practice management system returned %d", resp.StatusCode)
	}
	return nil
}

func (p *PMSClient) authorize(req *http.Request) {
	if auth := p.cfg.HttpService.Headers.Authorization; auth != "" {
		req.Header.Set("Authorization", auth)
	}
}

func (p *PMSClient) timeout() time.Duration {
	if p.cfg.HttpService.Timeout > 0 {
		return time.Duration(p.cfg.HttpService.Timeout) * time.Second
	}
	return request.DefaultTimeout
}

// decodeAppointments accepts either a bare appointment array or an
// object wrapping one under "appointments".
func decodeAppointments(raw interface{}) []model.SchedulePatient {
	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items, _ = v["appointments"].([]interface{})
	}

	patients := make([]model.SchedulePatient, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		patients = append(patients, model.SchedulePatient{
			ExternalID:    str(m, "PatNum", "patientId", "external_id"),
			FirstName:     str(m, "FName", "firstName", "first_name"),
			LastName:      str(m, "LName", "lastName", "last_name"),
			DateOfBirth:   str(m, "Birthdate", "dateOfBirth", "dob"),
			MemberID:      str(m, "SubscriberID", "memberId", "member_id"),
			PayerID:       str(m, "CarrierId", "payerId", "payer_id"),
			AppointmentAt: apptTime(m),
			Operatory:     str(m, "Op", "operatory"),
			ProcedureText: str(m, "ProcDescript", "procedureText", "procedure_text"),
			CDTCodes:      strSlice(m, "ProcCodes", "cdtCodes", "cdt_codes"),
		})
	}
	return patients
}

// str returns the first non-empty string among the candidate keys.
// Numeric ids are stringified, matching how different PMS vendors type
// the same field.
func str(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func strSlice(m map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		items, ok := m[key].([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func apptTime(m map[string]interface{}) time.Time {
	for _, key := range []string{"AptDateTime", "appointmentAt", "appointment_at"} {
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
