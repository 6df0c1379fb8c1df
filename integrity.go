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
	"fmt"
	"strings"

	"github.com/pulphealth/pulp/model"
)

// Criticality ranks how urgently a missing benefit field is needed.
// Critical fields make the cost estimate unreliable; important fields
// degrade accuracy but allow a conservative estimate; nice-to-have fields
// are logged and nothing more.
type Criticality string

const (
	CriticalityCritical   Criticality = "CRITICAL"
	CriticalityImportant  Criticality = "IMPORTANT"
	CriticalityNiceToHave Criticality = "NICE_TO_HAVE"
)

// fieldCheck is one entry of the completeness registry. Procedures lists
// the keywords that make the field relevant to today's visit; "*" means
// always relevant.
type fieldCheck struct {
	path        string
	description string
	criticality Criticality
	procedures  []string
	present     func(e *model.Eligibility) bool
}

var integrityRegistry = []fieldCheck{
	{
		path: "plan_status", description: "Plan Status", criticality: CriticalityCritical,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.PlanStatus != model.PlanUnknown },
	},
	{
		path: "annual_maximum_remaining", description: "Annual Maximum Remaining", criticality: CriticalityCritical,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.AnnualRemainingCents != nil },
	},
	{
		path: "annual_maximum", description: "Annual Maximum", criticality: CriticalityCritical,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.AnnualMaximumCents != nil },
	},
	{
		path: "individual_deductible", description: "Individual Deductible (Total)", criticality: CriticalityCritical,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.IndividualDeductibleCents != nil },
	},
	{
		path: "coverage_pct.preventive", description: "Preventive Coverage Percentage", criticality: CriticalityImportant,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.Preventive.CoveragePct != nil },
	},
	{
		path: "coverage_pct.restorative", description: "Restorative Coverage Percentage", criticality: CriticalityImportant,
		procedures: []string{"crown", "filling", "composite", "bridge", "d27", "d23", "d21"},
		present:    func(e *model.Eligibility) bool { return e.Restorative.CoveragePct != nil },
	},
	{
		path: "cleaning_frequency", description: "Adult Prophy Frequency (D1110)", criticality: CriticalityImportant,
		procedures: []string{"prophy", "cleaning", "recall", "d1110", "d1120"},
		present:    func(e *model.Eligibility) bool { return e.Preventive.CleaningFrequency != nil },
	},
	{
		path: "bitewing_frequency", description: "Bitewing X-Ray Frequency (D0274)", criticality: CriticalityImportant,
		procedures: []string{"bitewing", "bwx", "d0274", "d0272"},
		present:    func(e *model.Eligibility) bool { return e.Preventive.BitewingFrequency != nil },
	},
	{
		path: "plan_begin_date", description: "Plan Effective Date", criticality: CriticalityImportant,
		procedures: []string{"implant", "bridge", "partial", "denture", "crown"},
		present:    func(e *model.Eligibility) bool { return e.PlanBeginDate != nil },
	},
	{
		path: "insurance_type", description: "Insurance Type (PPO/HMO)", criticality: CriticalityNiceToHave,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.InsuranceType != nil },
	},
	{
		path: "payer_id", description: "Payer ID", criticality: CriticalityNiceToHave,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.PayerID != nil },
	},
	{
		path: "subscriber.member_id", description: "Member ID", criticality: CriticalityNiceToHave,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.Subscriber.MemberID != nil },
	},
	{
		path: "plan_end_date", description: "Plan End Date", criticality: CriticalityNiceToHave,
		procedures: []string{"*"},
		present:    func(e *model.Eligibility) bool { return e.PlanEndDate != nil },
	},
}

// MissingField is one absent registry field in an integrity report.
type MissingField struct {
	Path          string      `json:"field_path"`
	Description   string      `json:"description"`
	Criticality   Criticality `json:"criticality"`
	RelevantToday bool        `json:"relevant_to_today"`
}

// IntegrityReport grades how complete one normalized eligibility is. The
// grade shows up on the chart note so the front desk knows how much to
// trust the numbers.
type IntegrityReport struct {
	CompletenessScore float64        `json:"completeness_score"`
	CompletenessGrade string         `json:"completeness_grade"`
	CriticalMissing   []MissingField `json:"critical_missing"`
	ImportantMissing  []MissingField `json:"important_missing"`
	NiceToHaveMissing []MissingField `json:"nice_to_have_missing"`
	BlockAppointment  bool           `json:"block_appointment"`
	AuditTrail        []string       `json:"audit_trail"`
}

// EvaluateIntegrity checks a normalized eligibility against the field
// registry. A critical field that is both missing and relevant to today's
// scheduled procedures marks the appointment as blocked until secondary
// retrieval or a manual call fills the gap.
func EvaluateIntegrity(e *model.Eligibility, scheduledProcedures []string) IntegrityReport {
	report := IntegrityReport{
		CriticalMissing:   []MissingField{},
		ImportantMissing:  []MissingField{},
		NiceToHaveMissing: []MissingField{},
	}
	if e == nil {
		report.CompletenessGrade = "F"
		report.BlockAppointment = true
		report.AuditTrail = []string{"no eligibility to evaluate"}
		return report
	}

	present := 0
	for _, check := range integrityRegistry {
		if check.present(e) {
			present++
			continue
		}
		mf := MissingField{
			Path:          check.path,
			Description:   check.description,
			Criticality:   check.criticality,
			RelevantToday: procedureRelevant(scheduledProcedures, check.procedures),
		}
		switch check.criticality {
		case CriticalityCritical:
			report.CriticalMissing = append(report.CriticalMissing, mf)
			if mf.RelevantToday {
				report.BlockAppointment = true
			}
		case CriticalityImportant:
			report.ImportantMissing = append(report.ImportantMissing, mf)
		default:
			report.NiceToHaveMissing = append(report.NiceToHaveMissing, mf)
		}
		report.AuditTrail = append(report.AuditTrail, fmt.Sprintf("%s missing (%s)", check.path, check.criticality))
	}

	report.CompletenessScore = float64(present) / float64(len(integrityRegistry))
	report.CompletenessGrade = gradeOf(report.CompletenessScore)
	return report
}

// procedureRelevant reports whether any scheduled procedure matches one of
// the field's keywords. Substring matching in both directions lets "crown"
// hit "Crown Prep #14".
func procedureRelevant(scheduled, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "*" {
			return true
		}
	}
	for _, s := range scheduled {
		sched := strings.ToLower(s)
		for _, kw := range keywords {
			k := strings.ToLower(kw)
			if strings.Contains(sched, k) || strings.Contains(k, sched) {
				return true
			}
		}
	}
	return false
}

func gradeOf(score float64) string {
	switch {
	case score >= 0.95:
		return "A"
	case score >= 0.85:
		return "B"
	case score >= 0.70:
		return "C"
	case score >= 0.50:
		return "D"
	}
	return "F"
}
