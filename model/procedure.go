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

import "strings"

// ProcedureCategory buckets scheduled procedure text into the coverage
// tiers the triage rules reason about.
type ProcedureCategory string

const (
	CategoryPreventive       ProcedureCategory = "preventive"
	CategoryRestorativeBasic ProcedureCategory = "restorative_basic"
	CategoryRestorativeMajor ProcedureCategory = "restorative_major"
	CategoryEndodontic       ProcedureCategory = "endodontic"
	CategoryPeriodontic      ProcedureCategory = "periodontic"
	CategoryProsthetic       ProcedureCategory = "prosthetic"
	CategoryImplant          ProcedureCategory = "implant"
	CategoryOrthodontic      ProcedureCategory = "orthodontic"
	CategoryRadiograph       ProcedureCategory = "radiograph"
	CategoryExam             ProcedureCategory = "exam"
	CategoryGeneral          ProcedureCategory = "general"
)

// categoryKeywords is evaluated in order; the first category with a keyword
// hit wins. Implants are checked before prosthetics so "implant crown" does
// not land in the crown bucket, and preventive before radiograph so a
// combined "Prophy + BWX" visit classifies as preventive.
var categoryKeywords = []struct {
	category ProcedureCategory
	keywords []string
}{
	{CategoryImplant, []string{"implant", "abutment", "d6010", "d6056", "d6057", "d6058"}},
	{CategoryProsthetic, []string{"denture", "bridge", "pontic", "partial", "retainer crown", "d5", "d62", "d67"}},
	{CategoryOrthodontic, []string{"ortho", "braces", "aligner", "invisalign", "d8"}},
	{CategoryEndodontic, []string{"root canal", "endo", "rct", "pulpotomy", "pulpectomy", "d33"}},
	{CategoryPeriodontic, []string{"perio", "scaling", "root planing", "srp", "d43"}},
	{CategoryRestorativeMajor, []string{"crown", "onlay", "inlay", "veneer", "d27"}},
	{CategoryRestorativeBasic, []string{"filling", "composite", "amalgam", "resin", "restoration", "d23", "d21"}},
	{CategoryPreventive, []string{"prophy", "cleaning", "fluoride", "sealant", "recall"}},
	{CategoryRadiograph, []string{"bitewing", "bwx", "x-ray", "xray", "fmx", "pano", "radiograph"}},
	{CategoryExam, []string{"exam", "eval", "consult", "d01"}},
}

// ClassifyProcedure maps free-text procedure descriptions from the schedule
// into a category. Matching is case-insensitive, first match wins, and
// unrecognized text falls through to general.
func ClassifyProcedure(text string) ProcedureCategory {
	t := strings.ToLower(text)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(t, kw) {
				return entry.category
			}
		}
	}
	return CategoryGeneral
}

// CountsAgainstAnnualMax reports whether a category draws down the annual
// maximum in a way worth flagging. Diagnostic visits do not.
func (c ProcedureCategory) CountsAgainstAnnualMax() bool {
	switch c {
	case CategoryPreventive, CategoryRadiograph, CategoryExam:
		return false
	}
	return true
}

// SubjectToDeductible reports whether the deductible typically applies to
// work in this category.
func (c ProcedureCategory) SubjectToDeductible() bool {
	switch c {
	case CategoryRestorativeBasic, CategoryRestorativeMajor, CategoryEndodontic,
		CategoryPeriodontic, CategoryProsthetic:
		return true
	}
	return false
}
