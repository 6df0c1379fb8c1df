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
	"time"

	"github.com/pulphealth/pulp/model"
)

// TriageTier is the risk level shown as the colored square on the
// appointment book.
type TriageTier string

const (
	TierClear    TriageTier = "CLEAR"
	TierWarning  TriageTier = "WARNING"
	TierCritical TriageTier = "CRITICAL"
)

// SealantAgeLimit is the age above which most plans stop covering
// sealants.
const SealantAgeLimit = 16

// lowRemainingThresholdCents triggers the low-annual-max warning for
// non-diagnostic visits.
const lowRemainingThresholdCents int64 = 30000

// CarrierFlag is a raw flag the carrier attached to the response that the
// normalizer does not map to a canonical field.
type CarrierFlag struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// carrierFlagCodes that map to a specific critical rule. Anything else
// surfaces as a generic warning with the carrier's own wording.
const (
	flagMemberIDMismatch    = "member_id_mismatch"
	flagCallCarrier         = "call_carrier"
	flagCarrierCallRequired = "carrier_call_required"
)

// PatientContext is the minimal appointment context the triage rules need
// beyond the eligibility itself. PHI: never persisted, only held in memory
// for the duration of one evaluation.
type PatientContext struct {
	PatientID         string        `json:"patient_id"`
	ProcedureText     string        `json:"procedure_text"`
	DOB               *string       `json:"dob,omitempty"`
	PlannedCDTCodes   []string      `json:"planned_cdt_codes,omitempty"`
	ToothHistory      []ToothEvent  `json:"tooth_history,omitempty"`
	CarrierFlags      []CarrierFlag `json:"carrier_flags,omitempty"`
	VerificationError string        `json:"verification_error,omitempty"`
}

// TriageResult is the outcome of one triage evaluation. CriticalReasons
// non-empty forces TierCritical; a clear result carries no reasons of
// either kind. The Note is the deterministic chart write-back text.
type TriageResult struct {
	Tier            TriageTier `json:"tier"`
	CriticalReasons []string   `json:"critical_reasons"`
	Warnings        []string   `json:"warnings"`
	Note            string     `json:"note"`
}

// Triager evaluates appointments against normalized eligibility. The clock
// is injected so note rendering and age math are reproducible in tests.
type Triager struct {
	now func() time.Time
}

func NewTriager() *Triager {
	return &Triager{now: time.Now}
}

func NewTriagerWithClock(now func() time.Time) *Triager {
	return &Triager{now: now}
}

// Triage runs the rule set against one patient's context and eligibility.
// Critical rules all evaluate and accumulate; warning rules only run when
// no critical rule fired, and then all applicable warnings accumulate.
func (t *Triager) Triage(pc PatientContext, e *model.Eligibility) TriageResult {
	category := model.ClassifyProcedure(pc.ProcedureText)
	procText := strings.ToLower(pc.ProcedureText)

	var critical, warnings []string

	if e == nil || pc.VerificationError != "" {
		msg := "Insurance verification could not be completed. Verify coverage by phone before the visit."
		if pc.VerificationError != "" {
			msg = fmt.Sprintf("Insurance verification failed: %s. Verify coverage by phone before the visit.", pc.VerificationError)
		}
		critical = append(critical, msg)
	}

	if e != nil && e.PlanStatus != model.PlanActive {
		switch e.PlanStatus {
		case model.PlanInactive:
			msg := "Patient's plan is inactive. Collect payment in full or reschedule pending proof of new coverage."
			if e.TerminationReason != nil {
				msg = fmt.Sprintf("Patient's plan is inactive (%s). Collect payment in full or reschedule pending proof of new coverage.", *e.TerminationReason)
			}
			critical = append(critical, msg)
		default:
			critical = append(critical, "Plan status could not be determined from the carrier response. Treat coverage as unverified.")
		}
	}

	// Carrier flags with a dedicated critical rule fire here; the rest are
	// held for the warning pass.
	var unmappedFlags []CarrierFlag
	for _, f := range pc.CarrierFlags {
		switch strings.ToLower(strings.TrimSpace(f.Code)) {
		case flagMemberIDMismatch:
			critical = append(critical, "Member ID mismatch: the carrier did not recognize the member ID on file. Confirm the card before the visit.")
		case flagCallCarrier, flagCarrierCallRequired:
			critical = append(critical, "Carrier requires a phone call to complete this verification.")
		default:
			unmappedFlags = append(unmappedFlags, f)
		}
	}

	var mtcRes MTCAssessment
	if e != nil {
		mtcRes = t.missingToothAssessment(pc, e, category)
		if mtcRes.Tier == TierCritical {
			critical = append(critical, mtcRes.Description)
		}

		if e.AnnualRemainingCents != nil && *e.AnnualRemainingCents == 0 && category.CountsAgainstAnnualMax() {
			critical = append(critical, "Annual maximum is exhausted. Patient is responsible for the full fee today.")
		}
	}

	if len(critical) > 0 {
		res := TriageResult{Tier: TierCritical, CriticalReasons: critical, Warnings: []string{}}
		res.Note = t.renderNote(pc, e, res)
		return res
	}

	// Warning pass. e is non-nil here: a nil eligibility always goes
	// critical above.
	if rem := e.AnnualRemainingCents; rem != nil && *rem > 0 && *rem < lowRemainingThresholdCents &&
		category != model.CategoryPreventive && category != model.CategoryRadiograph {
		warnings = append(warnings, fmt.Sprintf("Only %s remaining on the annual maximum. Confirm today's fees fit before treatment.", formatDollars(rem)))
	}

	if !e.DeductibleMet() && category.SubjectToDeductible() {
		warnings = append(warnings, fmt.Sprintf(
			"Deductible not fully met (%s of %s satisfied). Collect the balance at checkout.",
			formatDollars(e.IndividualDeductibleMetCents), formatDollars(e.IndividualDeductibleCents)))
	}

	if e.Restorative.CompositePosteriorDowngrade && category == model.CategoryRestorativeBasic {
		msg := "Posterior composites downgrade to the amalgam rate. Collect the difference from the patient."
		if e.Restorative.CompositePosteriorNote != nil {
			msg = fmt.Sprintf("Posterior composite downgrade: %s", *e.Restorative.CompositePosteriorNote)
		}
		warnings = append(warnings, msg)
	}

	if e.Restorative.CrownWaitingPeriodMonths > 0 && category == model.CategoryRestorativeMajor {
		warnings = append(warnings, fmt.Sprintf(
			"Crown waiting period active: %d months before major work is covered. Confirm the patient's enrollment date.",
			e.Restorative.CrownWaitingPeriodMonths))
	}

	if cf := e.Preventive.CleaningFrequency; cf != nil {
		if cf.AtLimit() {
			warnings = append(warnings, fmt.Sprintf(
				"Cleaning frequency limit reached (%d of %d used this period). Today's prophy will not be covered.",
				cf.UsedThisPeriod, cf.TimesPerPeriod))
		} else if cf.Remaining() == 1 {
			warnings = append(warnings, "Only one cleaning left this benefit period. Plan the recall schedule accordingly.")
		}
	}

	if bw := e.Preventive.BitewingFrequency; bw != nil && bw.NextEligibleDate != nil && mentionsBitewings(procText) {
		if next := parseCivilDate(bw.NextEligibleDate); next != nil {
			if days := int(next.Sub(t.now()).Hours() / 24); days > 0 {
				warnings = append(warnings, fmt.Sprintf(
					"Bitewings not eligible for another %d days (next eligible %s). Postpone x-rays or collect out of pocket.",
					days, next.Format("Jan 02, 2006")))
			}
		}
	}

	if mtcRes.Tier == TierWarning {
		warnings = append(warnings, mtcRes.Description)
	} else if mtcRes.Flag == "" && e.MissingToothClause.Applies &&
		(category == model.CategoryImplant || category == model.CategoryProsthetic) {
		warnings = append(warnings, "Plan has a Missing Tooth Clause. Teeth missing before the effective date are excluded from replacement coverage; confirm the extraction date before treatment.")
	}

	if age := t.ageOf(pc.DOB); age > SealantAgeLimit && strings.Contains(procText, "sealant") {
		warnings = append(warnings, fmt.Sprintf(
			"Patient is %d; sealants are typically limited to age %d and under. Expect a denial or downgrade.",
			age, SealantAgeLimit))
	}

	for _, f := range unmappedFlags {
		desc := f.Description
		if desc == "" {
			desc = f.Code
		}
		warnings = append(warnings, fmt.Sprintf("Carrier flag: %s", desc))
	}

	res := TriageResult{Tier: TierClear, CriticalReasons: []string{}, Warnings: warnings}
	if len(warnings) > 0 {
		res.Tier = TierWarning
	} else {
		res.Warnings = []string{}
	}
	res.Note = t.renderNote(pc, e, res)
	return res
}

// missingToothAssessment runs the CDT-level MTC engine when the schedule
// carries planned codes; without codes the category keyword fallback in the
// warning pass applies instead.
func (t *Triager) missingToothAssessment(pc PatientContext, e *model.Eligibility, category model.ProcedureCategory) MTCAssessment {
	if len(pc.PlannedCDTCodes) == 0 {
		return MTCAssessment{}
	}
	presence := MTCNo
	if e.MissingToothClause.Applies {
		presence = MTCYes
	}
	return EvaluateMissingToothRisk(presence, e.MissingToothClause, pc.PlannedCDTCodes, pc.ToothHistory)
}

func (t *Triager) ageOf(dob *string) int {
	d := parseCivilDate(dob)
	if d == nil {
		return 0
	}
	now := t.now()
	age := now.Year() - d.Year()
	if now.YearDay() < d.YearDay() {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

func mentionsBitewings(procText string) bool {
	for _, kw := range []string{"bitewing", "bwx", "d0274", "d0272"} {
		if strings.Contains(procText, kw) {
			return true
		}
	}
	return false
}
