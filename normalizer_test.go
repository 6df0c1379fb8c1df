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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulphealth/pulp/model"
)

func frozenNormalizer() *Normalizer {
	frozen := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	return NewNormalizerWithClock(func() time.Time { return frozen })
}

func activeFixture() map[string]interface{} {
	payload := `{
		"coverage": {
			"plan_status": "active",
			"insurance_type": "PPO",
			"plan_begin_date": "2025-01-01"
		},
		"payer": {"name": "Delta Dental of California", "payer_id": "DDCA"},
		"subscriber": {
			"member_id": "W1234567",
			"first_name": "Maria",
			"last_name": "Santos",
			"date_of_birth": "1988-04-12",
			"group_number": "GRP-5521"
		},
		"benefits": {
			"calendar_year_maximum": {"amount_cents": 150000, "used_cents": 20000, "remaining_cents": 130000},
			"deductible": {"individual_cents": 5000, "met_cents": 5000, "waived_for": ["preventive"]},
			"preventive": {
				"coverage_pct": 100,
				"deductible_applies": false,
				"frequency": {
					"cleanings": {"times_per_period": 2, "used_this_period": 1, "last_service_date": "2025-01-10"},
					"bitewing_xrays": {"times_per_period": 1, "used_this_period": 0}
				}
			},
			"basic_restorative": {"coverage_pct": 80},
			"major_restorative": {"coverage_pct": 50, "waiting_period_months": 0}
		}
	}`
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		panic(err)
	}
	return raw
}

func TestNormalizeEmptyPayloadNeverFails(t *testing.T) {
	e := frozenNormalizer().Normalize(map[string]interface{}{})
	require.NotNil(t, e)

	assert.Equal(t, model.PlanUnknown, e.PlanStatus)
	assert.Equal(t, model.StatusInactive, e.VerificationStatus)
	assert.Equal(t, []model.ActionFlag{model.FlagPlanInactive}, e.ActionFlags)
	assert.Nil(t, e.PayerName)
	assert.Nil(t, e.AnnualMaximumCents)
	assert.Nil(t, e.Preventive.CleaningFrequency)
	assert.False(t, e.Medicaid)
	assert.True(t, e.InNetwork)
	assert.NotNil(t, e.DeductibleWaivedFor)

	e = frozenNormalizer().Normalize(nil)
	require.NotNil(t, e)
}

func TestNormalizeCleanActivePlan(t *testing.T) {
	e := frozenNormalizer().Normalize(activeFixture())

	assert.Equal(t, model.PlanActive, e.PlanStatus)
	assert.Equal(t, model.StatusVerified, e.VerificationStatus)
	assert.Empty(t, e.ActionFlags)
	assert.Equal(t, "Delta Dental of California", *e.PayerName)
	assert.Equal(t, int64(130000), *e.AnnualRemainingCents)
	assert.Equal(t, 100, *e.Preventive.CoveragePct)
	assert.Equal(t, 80, *e.Restorative.CoveragePct)
	require.NotNil(t, e.Preventive.CleaningFrequency)
	assert.Equal(t, 1, e.Preventive.CleaningFrequency.Remaining())
	assert.True(t, e.DeductibleMet())
	assert.Equal(t, time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC), e.NormalizedAt)
}

func TestNormalizeCrownWithMTCAndLowMax(t *testing.T) {
	raw := activeFixture()
	benefits := raw["benefits"].(map[string]interface{})
	benefits["calendar_year_maximum"] = map[string]interface{}{
		"amount_cents": 150000.0, "used_cents": 128000.0, "remaining_cents": 22000.0,
	}
	benefits["missing_tooth_clause"] = map[string]interface{}{
		"applies":           true,
		"affected_teeth":    []interface{}{"14"},
		"excluded_services": []interface{}{"D6010", "D6058"},
	}

	e := frozenNormalizer().Normalize(raw)

	assert.Equal(t, []model.ActionFlag{
		model.FlagMissingToothClause,
		model.FlagPreAuthRequired,
		model.FlagAnnualMaxLow,
	}, e.ActionFlags)
	assert.Equal(t, model.StatusActionRequired, e.VerificationStatus)
	assert.Equal(t, "2025-01-01", *e.MissingToothClause.CoverageBegin)
}

func TestNormalizeReconcilesAnnualRemaining(t *testing.T) {
	tests := []struct {
		name    string
		yrMax   map[string]interface{}
		wantRem int64
		wantLow bool
	}{
		{
			name:    "remaining above the maximum is capped",
			yrMax:   map[string]interface{}{"amount_cents": 100000.0, "remaining_cents": 250000.0},
			wantRem: 100000,
		},
		{
			name:    "negative remaining floors at zero",
			yrMax:   map[string]interface{}{"amount_cents": 100000.0, "remaining_cents": -500.0},
			wantRem: 0,
		},
		{
			name:    "missing remaining recovered from maximum minus used",
			yrMax:   map[string]interface{}{"amount_cents": 150000.0, "used_cents": 128000.0},
			wantRem: 22000,
			wantLow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := activeFixture()
			raw["benefits"].(map[string]interface{})["calendar_year_maximum"] = tt.yrMax

			e := frozenNormalizer().Normalize(raw)

			require.NotNil(t, e.AnnualRemainingCents)
			assert.Equal(t, tt.wantRem, *e.AnnualRemainingCents)
			if e.AnnualMaximumCents != nil {
				assert.LessOrEqual(t, *e.AnnualRemainingCents, *e.AnnualMaximumCents)
			}
			assert.GreaterOrEqual(t, *e.AnnualRemainingCents, int64(0))
			if tt.wantLow {
				assert.Contains(t, e.ActionFlags, model.FlagAnnualMaxLow)
			} else {
				assert.NotContains(t, e.ActionFlags, model.FlagAnnualMaxLow)
			}
		})
	}
}

func TestNormalizeInactivePlanShortCircuits(t *testing.T) {
	raw := activeFixture()
	raw["coverage"].(map[string]interface{})["plan_status"] = "terminated"
	raw["coverage"].(map[string]interface{})["termination_reason"] = "employment ended"

	e := frozenNormalizer().Normalize(raw)

	assert.Equal(t, model.PlanInactive, e.PlanStatus)
	assert.Equal(t, model.StatusInactive, e.VerificationStatus)
	assert.Equal(t, []model.ActionFlag{model.FlagPlanInactive}, e.ActionFlags)
	assert.Equal(t, "employment ended", *e.TerminationReason)
}

func TestNormalizeLiveSchemaVariants(t *testing.T) {
	raw := map[string]interface{}{
		"planInformation": map[string]interface{}{
			"planStatus":    "Active",
			"planBeginDate": "01/01/2025",
			"inNetwork":     "yes",
		},
		"payer": map[string]interface{}{"payerName": "Aetna Dental", "payerId": "60054"},
		"benefitsInformation": map[string]interface{}{
			"calendarYearMaximum": map[string]interface{}{
				"amount": 1500.0, "remaining": 950.50,
			},
			"deductible": map[string]interface{}{"individual": "50"},
		},
	}

	e := frozenNormalizer().Normalize(raw)

	assert.Equal(t, model.PlanActive, e.PlanStatus)
	assert.Equal(t, "Aetna Dental", *e.PayerName)
	assert.Equal(t, "2025-01-01", *e.PlanBeginDate)
	assert.Equal(t, int64(150000), *e.AnnualMaximumCents)
	assert.Equal(t, int64(95050), *e.AnnualRemainingCents)
	assert.Equal(t, int64(5000), *e.IndividualDeductibleCents)
}

func TestNormalizeDateFormats(t *testing.T) {
	cases := map[string]string{
		"2025-03-09":          "2025-03-09",
		"2025-03-09T14:22:01": "2025-03-09",
		"03/09/2025":          "2025-03-09",
		"20250309":            "2025-03-09",
	}
	for input, want := range cases {
		raw := map[string]interface{}{
			"coverage": map[string]interface{}{"plan_begin_date": input},
		}
		e := frozenNormalizer().Normalize(raw)
		require.NotNil(t, e.PlanBeginDate, input)
		assert.Equal(t, want, *e.PlanBeginDate, input)
	}

	raw := map[string]interface{}{
		"coverage": map[string]interface{}{"plan_begin_date": "not a date"},
	}
	assert.Nil(t, frozenNormalizer().Normalize(raw).PlanBeginDate)
}

func TestNormalizeMedicaidDetection(t *testing.T) {
	cases := []struct {
		name     string
		payerID  string
		medicaid bool
	}{
		{"Denti-Cal", "CA-DHCS", true},
		{"TennCare Dental", "TNC01", true},
		{"DentaQuest Medicaid of Texas", "DQTX", true},
		{"Delta Dental of Iowa", "DDIA", false},
		{"", "MCD-OH-001", true},
	}
	for _, tc := range cases {
		raw := map[string]interface{}{
			"coverage": map[string]interface{}{"plan_status": "active"},
			"payer":    map[string]interface{}{"name": tc.name, "payer_id": tc.payerID},
		}
		e := frozenNormalizer().Normalize(raw)
		assert.Equal(t, tc.medicaid, e.Medicaid, tc.name+"/"+tc.payerID)
		// the marker never changes derivation
		assert.Equal(t, model.StatusVerified, e.VerificationStatus)
	}
}

func TestNormalizeRestorativeFallsBackToMajorPct(t *testing.T) {
	raw := activeFixture()
	benefits := raw["benefits"].(map[string]interface{})
	delete(benefits, "basic_restorative")

	e := frozenNormalizer().Normalize(raw)
	require.NotNil(t, e.Restorative.CoveragePct)
	assert.Equal(t, 50, *e.Restorative.CoveragePct)
	// major tier carries no deductible_applies field, default holds
	assert.True(t, e.Restorative.DeductibleApplies)
}

func TestNormalizeIsPureGivenFrozenClock(t *testing.T) {
	n := frozenNormalizer()
	first, err := json.Marshal(n.Normalize(activeFixture()))
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		next, err := json.Marshal(n.Normalize(activeFixture()))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(next))
	}
}
