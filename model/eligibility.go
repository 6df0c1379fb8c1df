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

import "time"

// PlanStatus is the coverage state reported by the payer.
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanInactive PlanStatus = "inactive"
	PlanUnknown  PlanStatus = "unknown"
)

// FrequencyCounter tracks how many times a frequency-limited benefit
// (cleanings, bitewings) has been used in the current benefit period.
type FrequencyCounter struct {
	TimesPerPeriod   int     `json:"times_per_period"`
	UsedThisPeriod   int     `json:"used_this_period"`
	Period           string  `json:"period,omitempty"`
	LastServiceDate  *string `json:"last_service_date"`
	NextEligibleDate *string `json:"next_eligible_date"`
}

// Remaining returns how many uses are left in the period, never negative.
func (f *FrequencyCounter) Remaining() int {
	if f == nil {
		return 0
	}
	r := f.TimesPerPeriod - f.UsedThisPeriod
	if r < 0 {
		return 0
	}
	return r
}

// AtLimit reports whether the benefit has been used up for the period.
func (f *FrequencyCounter) AtLimit() bool {
	if f == nil {
		return false
	}
	return f.UsedThisPeriod >= f.TimesPerPeriod
}

// PreventiveBenefit covers exams, cleanings and routine radiographs.
type PreventiveBenefit struct {
	CoveragePct       *int              `json:"coverage_pct"`
	CopayCents        *int64            `json:"copay_cents"`
	DeductibleApplies bool              `json:"deductible_applies"`
	CleaningFrequency *FrequencyCounter `json:"cleaning_frequency"`
	BitewingFrequency *FrequencyCounter `json:"bitewing_frequency"`
}

// RestorativeBenefit covers basic and major restorative work. The coverage
// percentage prefers the basic-tier figure and falls back to major when the
// payer only reports one.
type RestorativeBenefit struct {
	CoveragePct                 *int    `json:"coverage_pct"`
	CopayCents                  *int64  `json:"copay_cents"`
	DeductibleApplies           bool    `json:"deductible_applies"`
	CompositePosteriorDowngrade bool    `json:"composite_posterior_downgrade"`
	CompositePosteriorNote      *string `json:"composite_posterior_note"`
	CrownWaitingPeriodMonths    int     `json:"crown_waiting_period_months"`
}

// MissingToothClause describes a plan exclusion for teeth extracted before
// coverage began.
type MissingToothClause struct {
	Applies          bool     `json:"applies"`
	AffectedTeeth    []string `json:"affected_teeth"`
	ExcludedServices []string `json:"excluded_services"`
	ExceptionPathway *string  `json:"exception_pathway"`
	ExtractionDate   *string  `json:"extraction_date"`
	CoverageBegin    *string  `json:"coverage_begin"`
}

// Subscriber identifies the plan member. PHI: this block must never be
// written to durable storage in the clear.
type Subscriber struct {
	MemberID  *string `json:"member_id"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	DOB       *string `json:"dob"`
	Group     *string `json:"group"`
	PlanName  *string `json:"plan_name"`
}

// Eligibility is the canonical shape every payer response is normalized
// into. One is created per verification attempt and never mutated; the
// verification status and action flags are derived, never assigned
// independently.
type Eligibility struct {
	VerificationStatus VerificationStatus `json:"verification_status"`
	PlanStatus         PlanStatus         `json:"plan_status"`

	PayerName     *string `json:"payer_name"`
	PayerID       *string `json:"payer_id"`
	InsuranceType *string `json:"insurance_type"`
	Medicaid      bool    `json:"medicaid"`
	InNetwork     bool    `json:"in_network"`

	PlanBeginDate     *string `json:"plan_begin_date"`
	PlanEndDate       *string `json:"plan_end_date"`
	TerminationReason *string `json:"termination_reason"`

	AnnualMaximumCents   *int64 `json:"annual_maximum_cents"`
	AnnualUsedCents      *int64 `json:"annual_used_cents"`
	AnnualRemainingCents *int64 `json:"annual_remaining_cents"`

	IndividualDeductibleCents    *int64   `json:"individual_deductible_cents"`
	IndividualDeductibleMetCents *int64   `json:"individual_deductible_met_cents"`
	FamilyDeductibleCents        *int64   `json:"family_deductible_cents"`
	FamilyDeductibleMetCents     *int64   `json:"family_deductible_met_cents"`
	DeductibleWaivedFor          []string `json:"deductible_waived_for"`

	Preventive         PreventiveBenefit  `json:"preventive"`
	Restorative        RestorativeBenefit `json:"restorative"`
	MissingToothClause MissingToothClause `json:"missing_tooth_clause"`

	ActionFlags []ActionFlag `json:"action_flags"`

	Subscriber Subscriber `json:"subscriber"`

	FixtureID    *string   `json:"_fixture_id,omitempty"`
	NormalizedAt time.Time `json:"_normalized_at"`
}

// DeductibleMet reports whether the individual deductible is fully met.
// Unknown amounts count as met so downstream rules do not flag on missing
// data.
func (e *Eligibility) DeductibleMet() bool {
	if e.IndividualDeductibleCents == nil {
		return true
	}
	if e.IndividualDeductibleMetCents == nil {
		return false
	}
	return *e.IndividualDeductibleMetCents >= *e.IndividualDeductibleCents
}
