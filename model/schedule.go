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

package model

import (
	"strings"
	"time"
)

// SchedulePatient is one appointment slot as pulled from the practice
// management system, carrying just enough identity to run verification.
type SchedulePatient struct {
	ExternalID    string    `json:"external_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	DateOfBirth   string    `json:"date_of_birth,omitempty"`
	MemberID      string    `json:"member_id,omitempty"`
	PayerID       string    `json:"payer_id,omitempty"`
	AppointmentAt time.Time `json:"appointment_at"`
	Operatory     string    `json:"operatory,omitempty"`
	ProcedureText string    `json:"procedure_text,omitempty"`
	CDTCodes      []string  `json:"cdt_codes,omitempty"`
}

// DisplayName joins the name parts for chart notes and logs.
func (p SchedulePatient) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// SameName reports whether the patient's full name matches the other
// patient's, ignoring case and surrounding whitespace. Used as the merge
// fallback when a PMS event arrives without an external id.
func (p SchedulePatient) SameName(other SchedulePatient) bool {
	return strings.EqualFold(strings.TrimSpace(p.FirstName), strings.TrimSpace(other.FirstName)) &&
		strings.EqualFold(strings.TrimSpace(p.LastName), strings.TrimSpace(other.LastName))
}
