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

// Package provider holds the adapters for everything upstream of the
// verification core: the clearinghouse that answers eligibility checks,
// the practice management system that owns the schedule and the chart,
// and the AI assistant that answers coverage questions.
package provider

import (
	"context"

	"github.com/pulphealth/pulp/model"
)

// EligibilityRequest is the minimal identity needed to run one
// eligibility check against a carrier.
type EligibilityRequest struct {
	MemberID    string `json:"member_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	PayerID     string `json:"payer_id"`
	PracticeID  string `json:"practice_id"`
}

// EligibilityProvider answers an eligibility check with the carrier's
// raw, vendor-shaped payload. Interpretation is the Normalizer's job;
// adapters only move bytes.
type EligibilityProvider interface {
	Name() string
	FetchEligibility(ctx context.Context, req EligibilityRequest) (map[string]interface{}, error)
}

// ScheduleSource pulls a practice's appointment list for one day.
type ScheduleSource interface {
	PullSchedule(ctx context.Context, practiceID, date string) ([]model.SchedulePatient, error)
}

// ChartWriter pushes a verification note back onto the patient's chart
// in the practice management system.
type ChartWriter interface {
	WriteChartNote(ctx context.Context, practiceID, patientExternalID, note string) error
}

// Assistant answers a front-desk question grounded on a coverage
// summary built from the canonical model.
type Assistant interface {
	Answer(ctx context.Context, question, coverageSummary string) (string, error)
}
