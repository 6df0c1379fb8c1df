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
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pulphealth/pulp/model"
)

// Normalizer maps raw carrier eligibility payloads, fixture or live, into
// the canonical model. It is a pure transformation apart from stamping the
// normalization time, and it never fails: absent or malformed fields come
// out as nil, false or empty, so downstream flag rules treat them as
// unknown rather than flagging on bad data.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerWithClock injects the clock. Tests use this to pin the
// normalized_at stamp.
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// medicaidPatterns are lowercase substrings of payer names, and payer id
// prefixes, that identify state Medicaid and managed-Medicaid programs.
var medicaidPatterns = []string{
	"medicaid", "medi-cal", "denti-cal", "masshealth", "mass health",
	"ahcccs", "tenncare", "soonercare", "badgercare", "husky health",
	"apple health", "dentaquest medicaid", "mcna",
}

// Normalize converts one raw eligibility response into the canonical
// shape. Field lookups tolerate both the fixture schema and the live
// clearinghouse schema; dates are normalized to YYYY-MM-DD and money to
// integer cents. Action flags and the verification status are derived at
// the end, never carried over from the payload.
func (n *Normalizer) Normalize(raw map[string]interface{}) *model.Eligibility {
	if raw == nil {
		raw = map[string]interface{}{}
	}

	coverage := subMap(raw, "coverage", "planInformation")
	benefits := subMap(raw, "benefits", "benefitsInformation")
	payer := subMap(raw, "payer")
	sub := subMap(raw, "subscriber")

	planStatus := normalizePlanStatus(stringVal(coverage, "plan_status", "planStatus", "status"))

	yrMax := subMap(benefits, "calendar_year_maximum", "calendarYearMaximum", "annual_maximum")
	ded := subMap(benefits, "deductible")

	prev := subMap(benefits, "preventive")
	prevFreq := subMap(prev, "frequency")
	cleanFreq := subMap(prevFreq, "cleanings")
	bwFreq := subMap(prevFreq, "bitewing_xrays", "bitewings")

	basic := subMap(benefits, "basic_restorative", "basicRestorative")
	major := subMap(benefits, "major_restorative", "majorRestorative")
	mtc := subMap(benefits, "missing_tooth_clause", "missingToothClause")

	payerName := stringVal(payer, "name", "payerName")
	payerID := stringVal(payer, "payer_id", "payerId", "id")

	e := &model.Eligibility{
		PlanStatus:    planStatus,
		PayerName:     payerName,
		PayerID:       payerID,
		InsuranceType: stringVal(coverage, "insurance_type", "insuranceType"),
		Medicaid:      isMedicaidPayer(payerName, payerID),
		InNetwork:     boolVal(coverage, true, "in_network", "inNetwork"),

		PlanBeginDate:     dateVal(coverage, "plan_begin_date", "planBeginDate"),
		PlanEndDate:       dateVal(coverage, "plan_end_date", "planEndDate"),
		TerminationReason: stringVal(coverage, "termination_reason", "terminationReason"),

		AnnualMaximumCents:   centsVal(yrMax, "amount_cents", "amount"),
		AnnualUsedCents:      centsVal(yrMax, "used_cents", "used"),
		AnnualRemainingCents: centsVal(yrMax, "remaining_cents", "remaining"),

		IndividualDeductibleCents:    centsVal(ded, "individual_cents", "individual"),
		IndividualDeductibleMetCents: centsOrZero(ded, "met_cents", "met"),
		FamilyDeductibleCents:        centsVal(ded, "family_cents", "family"),
		FamilyDeductibleMetCents:     centsVal(ded, "family_met_cents", "familyMet"),
		DeductibleWaivedFor:          stringSliceVal(ded, "waived_for", "waivedFor"),

		Preventive: model.PreventiveBenefit{
			CoveragePct:       intVal(prev, "coverage_pct", "coveragePct"),
			CopayCents:        centsVal(prev, "copay_cents", "copay"),
			DeductibleApplies: boolVal(prev, false, "deductible_applies", "deductibleApplies"),
			CleaningFrequency: frequencyVal(cleanFreq, 2),
			BitewingFrequency: frequencyVal(bwFreq, 1),
		},

		Restorative: model.RestorativeBenefit{
			CoveragePct:                 restorativePct(basic, major),
			CopayCents:                  centsVal(basic, "copay_cents", "copay"),
			DeductibleApplies:           boolVal(basic, true, "deductible_applies", "deductibleApplies"),
			CompositePosteriorDowngrade: boolVal(basic, false, "composite_posterior_downgrade", "compositePosteriorDowngrade"),
			CompositePosteriorNote:      stringVal(basic, "composite_posterior_downgrade_note", "compositePosteriorNote"),
			CrownWaitingPeriodMonths:    intOrZero(major, "waiting_period_months", "waitingPeriodMonths"),
		},

		MissingToothClause: model.MissingToothClause{
			Applies:          boolVal(mtc, false, "applies"),
			AffectedTeeth:    stringSliceVal(mtc, "affected_teeth", "affectedTeeth"),
			ExcludedServices: stringSliceVal(mtc, "excluded_services", "excludedServices"),
			ExceptionPathway: stringVal(mtc, "exception_pathway", "exceptionPathway"),
			ExtractionDate:   dateVal(mtc, "extraction_date_on_file", "extractionDate"),
			CoverageBegin:    dateVal(coverage, "plan_begin_date", "planBeginDate"),
		},

		Subscriber: model.Subscriber{
			MemberID:  stringVal(sub, "member_id", "memberId"),
			FirstName: stringVal(sub, "first_name", "firstName"),
			LastName:  stringVal(sub, "last_name", "lastName"),
			DOB:       dateVal(sub, "date_of_birth", "dateOfBirth", "dob"),
			Group:     stringVal(sub, "group_number", "groupNumber"),
			PlanName:  stringVal(sub, "plan_name", "planName"),
		},

		FixtureID:    stringVal(raw, "_fixture_id"),
		NormalizedAt: n.now().UTC(),
	}

	reconcileAnnualRemaining(e)

	e.ActionFlags = model.DeriveActionFlags(e)
	e.VerificationStatus = model.DeriveVerificationStatus(e.PlanStatus, e.ActionFlags)
	return e
}

// reconcileAnnualRemaining keeps the annual remaining-benefit figure
// inside [0, annual maximum]. Carriers report the three numbers
// independently and the remaining one is wrong often enough that the
// flag and triage layers cannot be allowed to see it raw. A missing
// remaining is recovered from maximum minus used when both are known.
func reconcileAnnualRemaining(e *model.Eligibility) {
	rem := e.AnnualRemainingCents
	if rem == nil {
		if e.AnnualMaximumCents == nil || e.AnnualUsedCents == nil {
			return
		}
		derived := *e.AnnualMaximumCents - *e.AnnualUsedCents
		rem = &derived
	}
	v := *rem
	if e.AnnualMaximumCents != nil && v > *e.AnnualMaximumCents {
		v = *e.AnnualMaximumCents
	}
	if v < 0 {
		v = 0
	}
	e.AnnualRemainingCents = &v
}

func normalizePlanStatus(raw *string) model.PlanStatus {
	if raw == nil {
		return model.PlanUnknown
	}
	switch strings.ToLower(strings.TrimSpace(*raw)) {
	case "active", "a", "1":
		return model.PlanActive
	case "inactive", "terminated", "termed", "cancelled", "canceled", "expired", "6":
		return model.PlanInactive
	}
	return model.PlanUnknown
}

func isMedicaidPayer(name, id *string) bool {
	if name != nil {
		lower := strings.ToLower(*name)
		for _, p := range medicaidPatterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	if id != nil {
		upper := strings.ToUpper(strings.TrimSpace(*id))
		if strings.HasPrefix(upper, "MCD") || strings.HasPrefix(upper, "SKYGEN") {
			return true
		}
	}
	return false
}

// restorativePct prefers the basic-tier percentage and falls back to the
// major tier when the carrier only reported one.
func restorativePct(basic, major map[string]interface{}) *int {
	if v := intVal(basic, "coverage_pct", "coveragePct"); v != nil {
		return v
	}
	return intVal(major, "coverage_pct", "coveragePct")
}

// frequencyVal builds a frequency counter, or nil when the carrier sent no
// frequency block at all. Absence and an explicit zero limit mean
// different things to the flag rules.
func frequencyVal(m map[string]interface{}, defaultTimes int) *model.FrequencyCounter {
	if len(m) == 0 {
		return nil
	}
	times := defaultTimes
	if v := intVal(m, "times_per_period", "timesPerPeriod"); v != nil {
		times = *v
	}
	period := "calendar_year"
	if v := stringVal(m, "period"); v != nil {
		period = *v
	}
	return &model.FrequencyCounter{
		TimesPerPeriod:   times,
		UsedThisPeriod:   intOrZero(m, "used_this_period", "usedThisPeriod"),
		Period:           period,
		LastServiceDate:  dateVal(m, "last_service_date", "lastServiceDate"),
		NextEligibleDate: dateVal(m, "next_eligible_date", "nextEligibleDate"),
	}
}

// subMap digs out a nested object by the first key that holds one.
func subMap(m map[string]interface{}, keys ...string) map[string]interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if sub, ok := v.(map[string]interface{}); ok {
				return sub
			}
		}
	}
	return map[string]interface{}{}
}

func stringVal(m map[string]interface{}, keys ...string) *string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				return &s
			}
		}
	}
	return nil
}

// dateVal reads a date field and normalizes it to YYYY-MM-DD. Carriers
// send ISO dates, ISO timestamps, US slash dates and bare YYYYMMDD.
func dateVal(m map[string]interface{}, keys ...string) *string {
	raw := stringVal(m, keys...)
	if raw == nil {
		return nil
	}
	s := *raw
	layouts := []struct {
		layout string
		trim   int
	}{
		{"2006-01-02", 10},
		{"01/02/2006", 10},
		{"20060102", 8},
	}
	for _, l := range layouts {
		candidate := s
		if len(candidate) > l.trim {
			candidate = candidate[:l.trim]
		}
		if t, err := time.Parse(l.layout, candidate); err == nil {
			out := t.Format("2006-01-02")
			return &out
		}
	}
	return nil
}

func boolVal(m map[string]interface{}, def bool, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "yes", "y", "1":
				return true
			case "false", "no", "n", "0":
				return false
			}
		}
	}
	return def
}

// asInt64 coerces the numeric encodings seen in the wild: JSON numbers
// decode as float64, some vendors quote their integers.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(math.Round(n)), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(math.Round(f)), true
		}
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(n, "$"))
		if s == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(math.Round(f)), true
		}
	}
	return 0, false
}

// centsVal reads a money amount as integer cents. The first key is the
// cents-denominated field; the second is a dollar-denominated fallback
// some carriers use, converted by scaling.
func centsVal(m map[string]interface{}, centsKey, dollarsKey string) *int64 {
	if v, ok := m[centsKey]; ok && v != nil {
		if c, ok := asInt64(v); ok {
			return &c
		}
	}
	if v, ok := m[dollarsKey]; ok && v != nil {
		switch d := v.(type) {
		case float64:
			c := int64(math.Round(d * 100))
			return &c
		default:
			if c, ok := asInt64(v); ok {
				c *= 100
				return &c
			}
		}
	}
	return nil
}

func centsOrZero(m map[string]interface{}, centsKey, dollarsKey string) *int64 {
	if v := centsVal(m, centsKey, dollarsKey); v != nil {
		return v
	}
	zero := int64(0)
	return &zero
}

func intVal(m map[string]interface{}, keys ...string) *int {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := asInt64(v); ok {
			i := int(n)
			return &i
		}
	}
	return nil
}

func intOrZero(m map[string]interface{}, keys ...string) int {
	if v := intVal(m, keys...); v != nil {
		return *v
	}
	return 0
}

func stringSliceVal(m map[string]interface{}, keys ...string) []string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch list := v.(type) {
		case []string:
			return list
		case []interface{}:
			out := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return []string{}
}
