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
	"sort"
	"strings"
	"time"

	"github.com/pulphealth/pulp/model"
)

// MTCPresence records what the carrier told us about a missing tooth
// clause. Unknown means the payload carried no usable signal either way,
// which is common with smaller carriers, and is treated conservatively.
type MTCPresence string

const (
	MTCYes     MTCPresence = "yes"
	MTCNo      MTCPresence = "no"
	MTCUnknown MTCPresence = "unknown"
)

// MTCCodeInfo describes one CDT code the missing tooth clause can affect.
type MTCCodeInfo struct {
	Category    string
	Description string
	HighRisk    bool
}

// mtcSensitiveCDT lists the tooth-replacement CDT codes a missing tooth
// clause can exclude. Preventive, diagnostic and single-tooth restorative
// codes are never affected, so anything not in this table skips MTC
// evaluation entirely.
var mtcSensitiveCDT = map[string]MTCCodeInfo{
	// Implants and implant-supported restorations.
	"D6010": {Category: "implant", Description: "Surgical placement of implant body", HighRisk: true},
	"D6011": {Category: "implant", Description: "Second stage implant surgery", HighRisk: true},
	"D6012": {Category: "implant", Description: "Surgical placement, interim implant body", HighRisk: true},
	"D6013": {Category: "implant", Description: "Surgical placement, mini implant", HighRisk: true},
	"D6040": {Category: "implant", Description: "Implant supported eposteal crown", HighRisk: true},
	"D6041": {Category: "implant", Description: "Interim implant crown", HighRisk: true},
	"D6055": {Category: "implant", Description: "Connecting bar, implant supported", HighRisk: true},
	"D6056": {Category: "implant", Description: "Prefabricated abutment", HighRisk: true},
	"D6057": {Category: "implant", Description: "Custom fabricated abutment", HighRisk: true},
	"D6058": {Category: "implant", Description: "Implant-supported porcelain/ceramic crown", HighRisk: true},
	"D6059": {Category: "implant", Description: "Implant-supported PFM crown", HighRisk: true},
	"D6065": {Category: "implant", Description: "Implant-supported metal crown", HighRisk: true},
	"D6066": {Category: "implant", Description: "Implant-supported PFM retainer", HighRisk: true},
	"D6067": {Category: "implant", Description: "Implant-supported metal retainer", HighRisk: true},
	"D6068": {Category: "implant", Description: "Implant-supported retainer, porcelain/ceramic", HighRisk: true},
	"D6069": {Category: "implant", Description: "Implant-supported retainer, PFM", HighRisk: true},
	"D6070": {Category: "implant", Description: "Implant-supported retainer, base metal", HighRisk: true},
	"D6071": {Category: "implant", Description: "Implant-supported retainer, noble metal", HighRisk: true},

	// Fixed bridges. Pontics replace the missing tooth directly.
	"D6210": {Category: "bridge", Description: "Pontic, cast high noble metal", HighRisk: true},
	"D6211": {Category: "bridge", Description: "Pontic, cast predominantly base metal", HighRisk: true},
	"D6212": {Category: "bridge", Description: "Pontic, cast noble metal", HighRisk: true},
	"D6214": {Category: "bridge", Description: "Pontic, titanium and titanium alloys", HighRisk: true},
	"D6240": {Category: "bridge", Description: "Pontic, porcelain fused to high noble metal", HighRisk: true},
	"D6241": {Category: "bridge", Description: "Pontic, PFM predominantly base metal", HighRisk: true},
	"D6242": {Category: "bridge", Description: "Pontic, PFM noble metal", HighRisk: true},
	"D6243": {Category: "bridge", Description: "Pontic, porcelain/ceramic", HighRisk: true},
	"D6245": {Category: "bridge", Description: "Pontic, porcelain/ceramic", HighRisk: true},
	"D6250": {Category: "bridge", Description: "Pontic, resin with high noble metal", HighRisk: true},
	"D6251": {Category: "bridge", Description: "Pontic, resin with predominantly base metal", HighRisk: true},
	"D6252": {Category: "bridge", Description: "Pontic, resin with noble metal", HighRisk: true},
	"D6710": {Category: "bridge", Description: "Retainer crown, indirect resin"},
	"D6720": {Category: "bridge", Description: "Retainer crown, resin with high noble metal"},
	"D6721": {Category: "bridge", Description: "Retainer crown, resin/base metal"},
	"D6722": {Category: "bridge", Description: "Retainer crown, resin/noble metal"},
	"D6740": {Category: "bridge", Description: "Retainer crown, porcelain/ceramic"},
	"D6750": {Category: "bridge", Description: "Retainer crown, PFM high noble"},
	"D6751": {Category: "bridge", Description: "Retainer crown, PFM base metal"},
	"D6752": {Category: "bridge", Description: "Retainer crown, PFM noble metal"},
	"D6780": {Category: "bridge", Description: "Retainer crown, 3/4 cast high noble"},
	"D6781": {Category: "bridge", Description: "Retainer crown, 3/4 cast base metal"},
	"D6782": {Category: "bridge", Description: "Retainer crown, 3/4 cast noble"},
	"D6783": {Category: "bridge", Description: "Retainer crown, 3/4 porcelain/ceramic"},
	"D6790": {Category: "bridge", Description: "Retainer crown, full cast high noble"},
	"D6791": {Category: "bridge", Description: "Retainer crown, full cast base metal"},
	"D6792": {Category: "bridge", Description: "Retainer crown, full cast noble"},

	// Dentures. Partials on pre-existing gaps are the classic MTC denial.
	"D5110": {Category: "denture", Description: "Complete denture, maxillary"},
	"D5120": {Category: "denture", Description: "Complete denture, mandibular"},
	"D5130": {Category: "denture", Description: "Immediate denture, maxillary"},
	"D5140": {Category: "denture", Description: "Immediate denture, mandibular"},
	"D5211": {Category: "denture", Description: "Maxillary partial denture, resin base", HighRisk: true},
	"D5212": {Category: "denture", Description: "Mandibular partial denture, resin base", HighRisk: true},
	"D5213": {Category: "denture", Description: "Maxillary partial denture, cast metal", HighRisk: true},
	"D5214": {Category: "denture", Description: "Mandibular partial denture, cast metal", HighRisk: true},
	"D5221": {Category: "denture", Description: "Immediate maxillary partial, resin base", HighRisk: true},
	"D5222": {Category: "denture", Description: "Immediate mandibular partial, resin base", HighRisk: true},
	"D5223": {Category: "denture", Description: "Immediate maxillary partial, cast metal", HighRisk: true},
	"D5224": {Category: "denture", Description: "Immediate mandibular partial, cast metal", HighRisk: true},
	"D5225": {Category: "denture", Description: "Maxillary partial denture, flexible base", HighRisk: true},
	"D5226": {Category: "denture", Description: "Mandibular partial denture, flexible base", HighRisk: true},
}

// extractionCDTCodes are the procedure codes that remove a tooth. Any of
// these in the PMS tooth history establishes when the gap appeared.
var extractionCDTCodes = map[string]struct{}{
	"D7140": {},
	"D7210": {},
	"D7220": {},
	"D7230": {},
	"D7240": {},
	"D7250": {},
	"D7251": {},
}

// LookupMTCCode returns the registry entry for a CDT code, if the code is
// one the missing tooth clause can affect.
func LookupMTCCode(code string) (MTCCodeInfo, bool) {
	info, ok := mtcSensitiveCDT[strings.ToUpper(strings.TrimSpace(code))]
	return info, ok
}

// ToothEvent is one row of PMS tooth history, as pulled from the practice
// management system's procedure log.
type ToothEvent struct {
	Tooth     string `json:"tooth"`
	Procedure string `json:"procedure"`
	Date      string `json:"date"`
}

// MTCAssessment is the outcome of evaluating missing-tooth-clause risk for
// one patient's planned work. A zero Flag means the clause is irrelevant to
// this visit.
type MTCAssessment struct {
	Flag               string     `json:"flag,omitempty"`
	Tier               TriageTier `json:"tier,omitempty"`
	Description        string     `json:"description"`
	AffectedCodes      []string   `json:"affected_codes"`
	AffectedCategories []string   `json:"affected_categories"`
	ExtractionDate     *civilDate `json:"extraction_date,omitempty"`
	CoverageStart      *civilDate `json:"coverage_start,omitempty"`
	PreExisting        *bool      `json:"tooth_was_pre_existing,omitempty"`
	BotRequired        bool       `json:"requires_portal_bot"`
	Reasoning          string     `json:"reasoning"`
}

// civilDate is a calendar date with no time or zone component. Carrier and
// PMS payloads carry dates as YYYY-MM-DD strings.
type civilDate struct {
	time.Time
}

func (d civilDate) String() string {
	return d.Format("2006-01-02")
}

func (d civilDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// parseCivilDate accepts a YYYY-MM-DD prefix and ignores whatever follows,
// so full ISO timestamps parse too.
func parseCivilDate(s *string) *civilDate {
	if s == nil {
		return nil
	}
	raw := strings.TrimSpace(*s)
	if len(raw) < 10 {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw[:10])
	if err != nil {
		return nil
	}
	return &civilDate{t}
}

// EvaluateMissingToothRisk decides how a missing tooth clause bears on the
// patient's planned procedures.
//
// The decision runs in three steps. First, if no planned code is in the
// sensitive registry the clause cannot apply and no flag is raised. Second,
// if the carrier's MTC position is unknown the front desk gets a warning
// and the portal bot is requested to read the plan's limitations document.
// Third, with the clause confirmed, the extraction date from the clause or
// the PMS tooth history is compared against the coverage start date: an
// extraction before coverage began is a likely denial and goes critical, an
// extraction during coverage is a documentation warning, and an extraction
// date we cannot establish is treated as pre-existing because coverage
// cannot be proven.
func EvaluateMissingToothRisk(presence MTCPresence, clause model.MissingToothClause, plannedCodes []string, history []ToothEvent) MTCAssessment {
	affected := make([]string, 0, len(plannedCodes))
	categories := map[string]struct{}{}
	for _, code := range plannedCodes {
		if info, ok := LookupMTCCode(code); ok {
			affected = append(affected, strings.ToUpper(strings.TrimSpace(code)))
			categories[info.Category] = struct{}{}
		}
	}

	if len(affected) == 0 {
		return MTCAssessment{
			Description: "No MTC-sensitive procedures in treatment plan.",
			Reasoning:   "Treatment plan contains no implant, bridge, or denture codes. MTC evaluation skipped.",
		}
	}

	catList := make([]string, 0, len(categories))
	for c := range categories {
		catList = append(catList, c)
	}
	sort.Strings(catList)
	codeStr := strings.Join(affected, ", ")

	if presence == MTCUnknown && !clause.Applies {
		return MTCAssessment{
			Flag: "mtc_unknown_bot_required",
			Tier: TierWarning,
			Description: fmt.Sprintf(
				"MTC status unknown for this plan. Cannot confirm if %s will be covered. "+
					"Portal bot queued to check carrier limitations document. "+
					"Recommend collecting full patient responsibility estimate until resolved.", codeStr),
			AffectedCodes:      affected,
			AffectedCategories: catList,
			BotRequired:        true,
			Reasoning: fmt.Sprintf(
				"Carrier response carried no explicit MTC indicator. Defaulting to unknown and "+
					"requesting a portal lookup, the conservative assumption for %s.", codeStr),
		}
	}

	if presence == MTCNo || (presence != MTCYes && !clause.Applies) {
		pre := false
		return MTCAssessment{
			Description:        "Plan confirmed: no Missing Tooth Clause. Prosthetic codes are eligible.",
			AffectedCodes:      affected,
			AffectedCategories: catList,
			PreExisting:        &pre,
			Reasoning:          "Carrier returned an explicit no for MTC. Prosthetic coverage not restricted by a missing tooth rule.",
		}
	}

	coverageStart := parseCivilDate(clause.CoverageBegin)
	extraction := parseCivilDate(clause.ExtractionDate)
	if extraction == nil {
		extraction = earliestExtraction(history)
	}

	catStr := titleJoin(catList)
	base := MTCAssessment{
		AffectedCodes:      affected,
		AffectedCategories: catList,
		ExtractionDate:     extraction,
		CoverageStart:      coverageStart,
	}

	if extraction == nil || coverageStart == nil {
		base.Flag = "mtc_extraction_date_unknown"
		base.Tier = TierCritical
		base.Description = fmt.Sprintf(
			"Potential Denial: Plan has a Missing Tooth Clause. Cannot verify extraction date for %s. "+
				"If the tooth was missing before the %s date, this claim will likely be denied. "+
				"Pull extraction records from chart or prior provider before proceeding.",
			codeStr, dateOr(coverageStart, "effective"))
		base.Reasoning = "MTC confirmed. Extraction date not found in clause or PMS history, so pre-existing status cannot be determined. Defaulting to the conservative coverage assumption."
		return base
	}

	pre := extraction.Before(coverageStart.Time)
	base.PreExisting = &pre

	if pre {
		base.Flag = "mtc_pre_existing_critical"
		base.Tier = TierCritical
		base.Description = fmt.Sprintf(
			"Potential Denial: Plan has a Missing Tooth Clause. This %s (%s) may not be covered because "+
				"the tooth was missing prior to the %d effective date (extracted %s). "+
				"Verify extraction date documentation. Collect patient responsibility before treatment. "+
				"Consider pre-authorization or appeal with extraction records.",
			catStr, codeStr, coverageStart.Year(), extraction.Format("Jan 02, 2006"))
		base.Reasoning = fmt.Sprintf(
			"MTC confirmed. Extraction date (%s) precedes coverage start (%s). Affected codes: %s.",
			extraction, coverageStart, codeStr)
		return base
	}

	base.Flag = "mtc_present_tooth_in_coverage"
	base.Tier = TierWarning
	base.Description = fmt.Sprintf(
		"Plan has a Missing Tooth Clause, but the tooth appears to have been extracted after the "+
			"coverage effective date (%s). MTC may not apply. Confirm extraction date with provider "+
			"and document in chart. Affected codes: %s.",
		coverageStart.Format("Jan 02, 2006"), codeStr)
	base.Reasoning = fmt.Sprintf(
		"MTC confirmed. Extraction date (%s) is after coverage start (%s), so the pre-existing "+
			"exclusion likely does not apply. Pending clinical documentation confirmation.",
		extraction, coverageStart)
	return base
}

// earliestExtraction picks the oldest extraction in the tooth history, the
// worst case for a missing tooth clause.
func earliestExtraction(history []ToothEvent) *civilDate {
	var earliest *civilDate
	for _, ev := range history {
		if _, ok := extractionCDTCodes[strings.ToUpper(strings.TrimSpace(ev.Procedure))]; !ok {
			continue
		}
		d := parseCivilDate(&ev.Date)
		if d == nil {
			continue
		}
		if earliest == nil || d.Before(earliest.Time) {
			earliest = d
		}
	}
	return earliest
}

func titleJoin(categories []string) string {
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		if c == "" {
			continue
		}
		parts = append(parts, strings.ToUpper(c[:1])+c[1:])
	}
	return strings.Join(parts, " / ")
}

func dateOr(d *civilDate, fallback string) string {
	if d == nil {
		return fallback
	}
	return d.Format("Jan 02, 2006")
}
