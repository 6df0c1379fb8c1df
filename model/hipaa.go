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
	"fmt"
	"strconv"
)

// HipaaSeverity grades how urgently a carrier adjustment code needs
// front-desk attention.
type HipaaSeverity string

const (
	HipaaInfo     HipaaSeverity = "info"
	HipaaWarning  HipaaSeverity = "warning"
	HipaaCritical HipaaSeverity = "critical"
)

// HipaaCodeAction pairs an X12 adjustment reason code with the concrete
// step the practice should take.
type HipaaCodeAction struct {
	Code     int           `json:"code"`
	Label    string        `json:"label"`
	Severity HipaaSeverity `json:"severity"`
	Action   string        `json:"action"`
}

// HipaaCodeActions maps the adjustment reason codes carriers return in AAA
// segments to practice guidance.
var HipaaCodeActions = map[int]HipaaCodeAction{
	1:   {1, "Deductible Amount", HipaaInfo, "Confirm patient's remaining deductible before collecting. Cross-check with EOB if available."},
	2:   {2, "Coinsurance Amount", HipaaInfo, "Review coinsurance percentage in the benefit breakdown and inform patient of estimated out-of-pocket."},
	3:   {3, "Co-payment Amount", HipaaInfo, "Collect copay at time of service. Verify copay tier for this procedure type."},
	4:   {4, "Procedure not covered", HipaaWarning, "Confirm CDT code matches the treatment being rendered. Consider alternative covered codes or submit a narrative."},
	5:   {5, "Service Not Authorized", HipaaCritical, "Pre-authorization required. Do NOT render service until auth number is obtained from carrier."},
	16:  {16, "Claim/service lacks info", HipaaCritical, "Action: Missing pre-op X-ray or required clinical narrative. Attach documentation and resubmit before proceeding."},
	18:  {18, "Duplicate claim/service", HipaaWarning, "Check for duplicate entry in your PMS. Verify claim number against original submission."},
	22:  {22, "This care may be covered by another payer", HipaaWarning, "Action: Coordinate benefits — confirm primary vs. secondary payer order. Request COB information from patient."},
	27:  {27, "Expenses incurred after policy terminated", HipaaCritical, "Action: Insurance was not active on date of service. Collect full fee from patient and advise them to contact carrier."},
	29:  {29, "Claim received after filing limit", HipaaCritical, "Filing deadline has passed. Review timely filing policy and consider appeal with proof of timely submission."},
	45:  {45, "Charge exceeds fee schedule", HipaaInfo, "Carrier has a contracted maximum. Adjust write-off per your PPO agreement — do not balance-bill patient."},
	96:  {96, "Non-covered charge", HipaaWarning, "Action: Service is excluded under this plan. Obtain Advance Beneficiary Notice (ABN) signed by patient before proceeding."},
	97:  {97, "Payment included in allowance for another service", HipaaInfo, "Bundled into a primary procedure. Check CDT bundling rules for this carrier."},
	109: {109, "Claim not covered by payer", HipaaCritical, "Wrong payer or plan. Verify insurance card and resubmit to correct carrier."},
	119: {119, "Benefit maximum for this period has been reached", HipaaWarning, "Action: Annual maximum exhausted. Collect full fee from patient or postpone non-urgent treatment to next benefit year."},
	131: {131, "Claim specific negotiated discount", HipaaInfo, "Contracted discount applied. Confirm write-off amount matches your fee schedule."},
	197: {197, "Pre-cert/prior auth not received", HipaaCritical, "Authorization missing. Pause treatment, obtain auth number, then resubmit claim with auth reference."},
	252: {252, "An attachment is required", HipaaWarning, "Attach supporting documentation (X-ray, periodontal charting, narrative) and resubmit."},
}

// ResolveHipaaCodes enriches raw adjustment codes with guidance, keeping
// the order they appeared in the payer response. Codes the dictionary does
// not know still come back with a generic entry.
func ResolveHipaaCodes(codes []int) []HipaaCodeAction {
	resolved := make([]HipaaCodeAction, 0, len(codes))
	for _, code := range codes {
		if entry, ok := HipaaCodeActions[code]; ok {
			resolved = append(resolved, entry)
			continue
		}
		resolved = append(resolved, HipaaCodeAction{
			Code:     code,
			Label:    fmt.Sprintf("Adjustment Code %d", code),
			Severity: HipaaInfo,
			Action:   fmt.Sprintf("Review carrier documentation for code %d.", code),
		})
	}
	return resolved
}

// ExtractAAACodes pulls adjustment reason codes out of a raw clearinghouse
// payload. Codes live in benefitInformation[].AAA[].rejectReasonCode;
// non-numeric and zero values are skipped and duplicates are dropped while
// preserving first-seen order.
func ExtractAAACodes(raw map[string]interface{}) []int {
	var codes []int
	seen := map[int]struct{}{}

	benefits, _ := raw["benefitInformation"].([]interface{})
	for _, b := range benefits {
		bm, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		segments, _ := bm["AAA"].([]interface{})
		for _, s := range segments {
			sm, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			code := parseAAACode(sm["rejectReasonCode"])
			if code == 0 {
				continue
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	return codes
}

func parseAAACode(v interface{}) int {
	switch c := v.(type) {
	case float64:
		return int(c)
	case int:
		return c
	case string:
		n, err := strconv.Atoi(c)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
