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
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/pulphealth/pulp"
	"github.com/pulphealth/pulp/model"
)

// VerifyPatient is the request body for a single-patient verification.
type VerifyPatient struct {
	PracticeID        string   `json:"practice_id"`
	PatientExternalID string   `json:"patient_external_id,omitempty"`
	MemberID          string   `json:"member_id"`
	FirstName         string   `json:"first_name"`
	LastName          string   `json:"last_name"`
	DateOfBirth       string   `json:"date_of_birth,omitempty"`
	PayerID           string   `json:"payer_id,omitempty"`
	ProcedureText     string   `json:"procedure_text,omitempty"`
	PlannedCDTCodes   []string `json:"planned_cdt_codes,omitempty"`
	WriteBack         bool     `json:"write_back,omitempty"`
}

func (v *VerifyPatient) ValidateVerifyPatient() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.PracticeID, validation.Required),
		validation.Field(&v.MemberID, validation.Required),
		validation.Field(&v.FirstName, validation.Required),
		validation.Field(&v.LastName, validation.Required),
		validation.Field(&v.DateOfBirth, validation.By(optionalDateValidation)),
	)
}

// ToVerificationRequest maps the API shape onto the core's request.
func (v *VerifyPatient) ToVerificationRequest() pulp.VerificationRequest {
	return pulp.VerificationRequest{
		PracticeID:        v.PracticeID,
		PatientExternalID: v.PatientExternalID,
		MemberID:          v.MemberID,
		FirstName:         v.FirstName,
		LastName:          v.LastName,
		DateOfBirth:       v.DateOfBirth,
		PayerID:           v.PayerID,
		ProcedureText:     v.ProcedureText,
		PlannedCDTCodes:   v.PlannedCDTCodes,
		WriteBack:         v.WriteBack,
	}
}

// ScheduleEvent is a real-time appointment notification from the PMS.
type ScheduleEvent struct {
	Action     string                 `json:"action"`
	Patient    *model.SchedulePatient `json:"patient,omitempty"`
	ExternalID string                 `json:"external_id,omitempty"`
}

const (
	ScheduleEventUpsert = "upsert"
	ScheduleEventRemove = "remove"
)

func (s *ScheduleEvent) ValidateScheduleEvent() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Action, validation.Required, validation.In(ScheduleEventUpsert, ScheduleEventRemove)),
		validation.Field(&s.Patient, validation.By(func(interface{}) error {
			if s.Action == ScheduleEventUpsert && s.Patient == nil {
				return errors.New("patient is required for upsert events")
			}
			return nil
		})),
		validation.Field(&s.ExternalID, validation.By(func(interface{}) error {
			if s.Action == ScheduleEventRemove && s.ExternalID == "" {
				return errors.New("external_id is required for remove events")
			}
			return nil
		})),
	)
}

// AskAssistant is a front-desk coverage question together with the
// eligibility snapshot the answer must be grounded on.
type AskAssistant struct {
	Question    string             `json:"question"`
	Eligibility *model.Eligibility `json:"eligibility"`
}

func (a *AskAssistant) ValidateAskAssistant() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Question, validation.Required, validation.Length(3, 2000)),
		validation.Field(&a.Eligibility, validation.Required),
	)
}

func optionalDateValidation(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return errors.New("please format the date of birth as 'YYYY-MM-DD' (e.g., 1988-04-12)")
	}
	return nil
}
