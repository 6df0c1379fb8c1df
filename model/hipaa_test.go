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
)

func TestExtractAAACodes(t *testing.T) {
	raw := map[string]interface{}{
		"benefitInformation": []interface{}{
			map[string]interface{}{
				"AAA": []interface{}{
					map[string]interface{}{"rejectReasonCode": "27"},
					map[string]interface{}{"rejectReasonCode": float64(5)},
				},
			},
			map[string]interface{}{
				"AAA": []interface{}{
					map[string]interface{}{"rejectReasonCode": "27"},  // duplicate
					map[string]interface{}{"rejectReasonCode": "bad"}, // non-numeric
					map[string]interface{}{"rejectReasonCode": "0"},   // zero is noise
					map[string]interface{}{"rejectReasonCode": "119"},
				},
			},
		},
	}

	// Order of first appearance is preserved, duplicates and junk dropped.
	assert.Equal(t, []int{27, 5, 119}, ExtractAAACodes(raw))
}

func TestExtractAAACodesEmptyPayload(t *testing.T) {
	assert.Empty(t, ExtractAAACodes(map[string]interface{}{}))
	assert.Empty(t, ExtractAAACodes(map[string]interface{}{"benefitInformation": "garbage"}))
}

func TestResolveHipaaCodes(t *testing.T) {
	resolved := ResolveHipaaCodes([]int{27, 9999})

	assert.Len(t, resolved, 2)
	assert.Equal(t, 27, resolved[0].Code)
	assert.Equal(t, "Expenses incurred after policy terminated", resolved[0].Label)
	assert.Equal(t, HipaaCritical, resolved[0].Severity)

	// Unknown codes come back with a generic stub instead of being dropped.
	assert.Equal(t, 9999, resolved[1].Code)
	assert.Equal(t, "Adjustment Code 9999", resolved[1].Label)
	assert.Equal(t, HipaaInfo, resolved[1].Severity)
}
