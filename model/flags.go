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

// ActionFlag is a machine-readable marker for a coverage condition the
// front desk needs to act on before the appointment.
type ActionFlag string

const (
	FlagPlanInactive        ActionFlag = "plan_inactive"
	FlagMissingToothClause  ActionFlag = "missing_tooth_clause"
	FlagPreAuthRequired     ActionFlag = "pre_auth_required"
	FlagFrequencyLimit      ActionFlag = "frequency_limit"
	FlagAnnualMaxExhausted  ActionFlag = "annual_max_exhausted"
	FlagAnnualMaxLow        ActionFlag = "annual_max_low"
	FlagCompositeDowngrade  ActionFlag = "composite_downgrade"
	FlagWaitingPeriodActive ActionFlag = "waiting_period_active"
)

// VerificationStatus is the top-level outcome shown on the schedule badge.
type VerificationStatus string

const (
	StatusVerified       VerificationStatus = "verified"
	StatusActionRequired VerificationStatus = "action_required"
	StatusInactive       VerificationStatus = "inactive"
)

// AnnualMaxLowThresholdCents is the remaining-benefit level below which a
// plan is still usable but worth warning the practice about.
const AnnualMaxLowThresholdCents int64 = 30000

// DeriveActionFlags evaluates the flag rules against a normalized
// eligibility in a fixed order. An inactive plan short-circuits to a single
// plan_inactive flag; annual_max_exhausted and annual_max_low are mutually
// exclusive, only the tighter condition fires. The evaluation order and the
// exclusivity are relied on by consumers and are pinned by tests.
func DeriveActionFlags(e *Eligibility) []ActionFlag {
	flags := []ActionFlag{}

	if e.PlanStatus != PlanActive {
		return append(flags, FlagPlanInactive)
	}

	if e.MissingToothClause.Applies {
		flags = append(flags, FlagMissingToothClause)
		if len(e.MissingToothClause.ExcludedServices) > 0 {
			flags = append(flags, FlagPreAuthRequired)
		}
	}

	if cf := e.Preventive.CleaningFrequency; cf != nil && cf.AtLimit() {
		flags = append(flags, FlagFrequencyLimit)
	}

	if rem := e.AnnualRemainingCents; rem != nil {
		if *rem == 0 {
			flags = append(flags, FlagAnnualMaxExhausted)
		} else if *rem < AnnualMaxLowThresholdCents {
			flags = append(flags, FlagAnnualMaxLow)
		}
	}

	if e.Restorative.CompositePosteriorDowngrade {
		flags = append(flags, FlagCompositeDowngrade)
	}

	if e.Restorative.CrownWaitingPeriodMonths > 0 {
		flags = append(flags, FlagWaitingPeriodActive)
	}

	return flags
}

// criticalFlags is the set of flags that push a verification into
// action_required. Every flag currently defined demands front-desk action.
var criticalFlags = map[ActionFlag]struct{}{
	FlagPlanInactive:        {},
	FlagMissingToothClause:  {},
	FlagPreAuthRequired:     {},
	FlagFrequencyLimit:      {},
	FlagAnnualMaxExhausted:  {},
	FlagAnnualMaxLow:        {},
	FlagCompositeDowngrade:  {},
	FlagWaitingPeriodActive: {},
}

// DeriveVerificationStatus maps plan status and action flags to the badge
// status. It is a pure function and the only place the status is decided.
func DeriveVerificationStatus(planStatus PlanStatus, flags []ActionFlag) VerificationStatus {
	if planStatus != PlanActive {
		return StatusInactive
	}
	for _, f := range flags {
		if _, ok := criticalFlags[f]; ok {
			return StatusActionRequired
		}
	}
	return StatusVerified
}
