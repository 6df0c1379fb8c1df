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
	"strconv"
	"strings"

	"github.com/pulphealth/pulp/model"
)

// triageIcons render next to the tier in chart notes and the schedule UI.
var triageIcons = map[TriageTier]string{
	TierClear:    "✓",
	TierWarning:  "⚠",
	TierCritical: "🚨",
}

// renderNote builds the chart write-back text. The layout is fixed and
// every value is derived from the inputs and the injected clock, so the
// output is byte-for-byte reproducible for snapshot tests. Kept compact so
// it reads at a glance inside the practice's chart; full detail lives in
// the verification record.
func (t *Triager) renderNote(pc PatientContext, e *model.Eligibility, res TriageResult) string {
	stamp := t.now().Format("01/02/2006 03:04 PM")
	icon := triageIcons[res.Tier]

	carrier := "Unknown"
	grade := "F"
	if e != nil {
		if e.PayerName != nil {
			carrier = *e.PayerName
		}
		grade = EvaluateIntegrity(e, []string{pc.ProcedureText}).CompletenessGrade
	}

	lines := []string{
		fmt.Sprintf("── Pulp AI Verification [%s] ──", stamp),
		fmt.Sprintf("Carrier: %s | Triage: %s %s | Data: %s", carrier, icon, res.Tier, grade),
	}

	if e != nil {
		lines = append(lines,
			fmt.Sprintf("Plan: %s | Remaining Max: %s | Deductible: %s | Met: %s",
				e.PlanStatus,
				formatDollars(e.AnnualRemainingCents),
				formatDollars(e.IndividualDeductibleCents),
				formatDollars(e.IndividualDeductibleMetCents)),
			fmt.Sprintf("Coverage: %s preventive · %s restorative",
				formatPct(e.Preventive.CoveragePct), formatPct(e.Restorative.CoveragePct)),
		)
		if cf := e.Preventive.CleaningFrequency; cf != nil {
			lines = append(lines, fmt.Sprintf("Cleanings: %d of %d used", cf.UsedThisPeriod, cf.TimesPerPeriod))
		}
		if e.MissingToothClause.Applies {
			mtcLine := "MTC: applies"
			if len(e.MissingToothClause.ExcludedServices) > 0 {
				mtcLine += " · excludes " + strings.Join(e.MissingToothClause.ExcludedServices, ", ")
			}
			lines = append(lines, mtcLine)
		}
	}

	for _, reason := range res.CriticalReasons {
		lines = append(lines, "🚨 "+reason)
	}
	if len(res.Warnings) > 0 {
		shown := res.Warnings
		if len(shown) > 2 {
			shown = shown[:2]
		}
		lines = append(lines, "Flags: "+strings.Join(shown, " · "))
	}

	lines = append(lines, "── Auto-verified by Pulp ──")
	return strings.Join(lines, "\n")
}

// CoverageSummary renders a deterministic plain-language summary of one
// eligibility for the practice assistant. No model call happens here; the
// assistant provider decides whether to rewrite it.
func CoverageSummary(e *model.Eligibility) string {
	if e == nil {
		return "No verification on file for this patient yet."
	}

	var b strings.Builder
	payer := "this plan"
	if e.PayerName != nil {
		payer = *e.PayerName
	}

	switch e.PlanStatus {
	case model.PlanActive:
		fmt.Fprintf(&b, "Coverage with %s is active.", payer)
	case model.PlanInactive:
		fmt.Fprintf(&b, "Coverage with %s is inactive; the patient has no benefits under this plan.", payer)
		return b.String()
	default:
		fmt.Fprintf(&b, "Coverage with %s could not be confirmed.", payer)
		return b.String()
	}

	if e.AnnualRemainingCents != nil {
		fmt.Fprintf(&b, " %s of the annual maximum remains", formatDollars(e.AnnualRemainingCents))
		if e.AnnualMaximumCents != nil {
			fmt.Fprintf(&b, " out of %s", formatDollars(e.AnnualMaximumCents))
		}
		b.WriteString(".")
	}
	if e.IndividualDeductibleCents != nil {
		if e.DeductibleMet() {
			b.WriteString(" The individual deductible is met for the year.")
		} else {
			fmt.Fprintf(&b, " %s of the %s individual deductible has been met.",
				formatDollars(e.IndividualDeductibleMetCents), formatDollars(e.IndividualDeductibleCents))
		}
	}
	if e.Preventive.CoveragePct != nil {
		fmt.Fprintf(&b, " Preventive care is covered at %s.", formatPct(e.Preventive.CoveragePct))
	}
	if e.Restorative.CoveragePct != nil {
		fmt.Fprintf(&b, " Restorative work is covered at %s.", formatPct(e.Restorative.CoveragePct))
	}
	if cf := e.Preventive.CleaningFrequency; cf != nil {
		fmt.Fprintf(&b, " %d of %d cleanings have been used this period.", cf.UsedThisPeriod, cf.TimesPerPeriod)
	}
	if e.MissingToothClause.Applies {
		b.WriteString(" A missing tooth clause applies; replacements for teeth lost before coverage began are excluded.")
	}
	for _, f := range e.ActionFlags {
		fmt.Fprintf(&b, " Action flag: %s.", f)
	}
	return b.String()
}

// formatDollars renders integer cents as whole dollars with thousands
// separators, the way the original chart notes show money.
func formatDollars(cents *int64) string {
	if cents == nil {
		return "Unknown"
	}
	d := *cents / 100
	neg := d < 0
	if neg {
		d = -d
	}
	s := strconv.FormatInt(d, 10)
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := "$" + strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

func formatPct(v *int) string {
	if v == nil {
		return "Unknown"
	}
	return strconv.Itoa(*v) + "%"
}
