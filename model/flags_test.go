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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wacul/ptr"
)

func TestDeriveActionFlagsInactiveShortCircuit(t *testing.T) {
	// Everything else about the plan is in the worst possible shape; an
	// inactive plan must still produce exactly one flag.
	e := &Eligibility{
		PlanStatus:           PlanInactive,
		AnnualRemainingCents: ptr.Int64(0),
		MissingToothClause: MissingToothClause{
			Applies:          true,
			ExcludedServices: []string{"D6010"},
		},
		Preventive: PreventiveBenefit{
			CleaningFrequency: &FrequencyCounter{TimesPerPeriod: 2, UsedThisPeriod: 2},
		},
		Restorative: RestorativeBenefit{
			CompositePosteriorDowngrade: true,
			CrownWaitingPeriodMonths:    12,
		},
	}

	assert.Equal(t, []ActionFlag{FlagPlanInactive}, DeriveActionFlags(e))

	e.PlanStatus = PlanUnknown
	assert.Equal(t, []ActionFlag{FlagPlanInactive}, DeriveActionFlags(e))
}

func TestDeriveActionFlagsOrder(t *testing.T) {
	e := &Eligibility{
		PlanStatus:           PlanActive,
		AnnualRemainingCents: ptr.Int64(0),
		MissingToothClause: MissingToothClause{
			Applies:          true,
			ExcludedServices: []string{"D6010", "D6240"},
		},
		Preventive: PreventiveBenefit{
			CleaningFrequency: &FrequencyCounter{TimesPerPeriod: 2, UsedThisPeriod: 3},
		},
		Restorative: RestorativeBenefit{
			CompositePosteriorDowngrade: true,
			CrownWaitingPeriodMonths:    6,
		},
	}

	assert.Equal(t, []ActionFlag{
		FlagMissingToothClause,
		FlagPreAuthRequired,
		FlagFrequencyLimit,
		FlagAnnualMaxExhausted,
		FlagCompositeDowngrade,
		FlagWaitingPeriodActive,
	}, DeriveActionFlags(e))
}

func TestDeriveActionFlagsAnnualMaxMutualExclusivity(t *testing.T) {
	for _, remaining := range []int64{0, 1, 100, 29999, 30000, 30001, 145000} {
		e := &Eligibility{
			PlanStatus:           PlanActive,
			AnnualRemainingCents: ptr.Int64(remaining),
		}
		flags := DeriveActionFlags(e)

		exhausted := containsFlag(flags, FlagAnnualMaxExhausted)
		low := containsFlag(flags, FlagAnnualMaxLow)
		assert.False(t, exhausted && low, "both annual max flags fired at %d cents", remaining)

		switch {
		case remaining == 0:
			assert.True(t, exhausted, "expected exhausted at 0 cents")
		case remaining < AnnualMaxLowThresholdCents:
			assert.True(t, low, "expected low at %d cents", remaining)
		default:
			assert.False(t, exhausted || low, "expected no annual max flag at %d cents", remaining)
		}
	}
}

func TestDeriveActionFlagsPreAuthNeedsExclusions(t *testing.T) {
	e := &Eligibility{
		PlanStatus:         PlanActive,
		MissingToothClause: MissingToothClause{Applies: true},
	}

	flags := DeriveActionFlags(e)
	assert.True(t, containsFlag(flags, FlagMissingToothClause))
	assert.False(t, containsFlag(flags, FlagPreAuthRequired))
}

func TestDeriveActionFlagsUnknownDoesNotFlag(t *testing.T) {
	// A fully unknown but active plan produces no flags; nil means "do not
	// guess", never "assume the worst".
	e := &Eligibility{PlanStatus: PlanActive}
	assert.Empty(t, DeriveActionFlags(e))
}

func TestDeriveVerificationStatus(t *testing.T) {
	assert.Equal(t, StatusInactive, DeriveVerificationStatus(PlanInactive, []ActionFlag{FlagPlanInactive}))
	assert.Equal(t, StatusInactive, DeriveVerificationStatus(PlanUnknown, nil))
	assert.Equal(t, StatusActionRequired, DeriveVerificationStatus(PlanActive, []ActionFlag{FlagAnnualMaxLow}))
	assert.Equal(t, StatusVerified, DeriveVerificationStatus(PlanActive, nil))
	assert.Equal(t, StatusVerified, DeriveVerificationStatus(PlanActive, []ActionFlag{}))
}

func TestDeriveVerificationStatusIsPure(t *testing.T) {
	flags := []ActionFlag{FlagFrequencyLimit, FlagAnnualMaxLow}
	first := DeriveVerificationStatus(PlanActive, flags)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, DeriveVerificationStatus(PlanActive, flags))
	}
}

func containsFlag(flags []ActionFlag, want ActionFlag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
