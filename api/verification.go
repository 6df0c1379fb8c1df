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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/pulphealth/pulp/api/model"
)

// VerifyPatient runs a single-patient verification. The response is
// always a structured outcome: a system outage comes back as 200 with
// the outage block set, not as a 5xx.
func (a Api) VerifyPatient(c *gin.Context) {
	var req model2.VerifyPatient
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateVerifyPatient(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := a.pulp.VerifyPatient(c.Request.Context(), req.ToVerificationRequest())
	c.JSON(http.StatusOK, result)
}

// VerifySchedule verifies everyone on a practice's day sheet.
func (a Api) VerifySchedule(c *gin.Context) {
	practiceID, date, ok := schedulePath(c)
	if !ok {
		return
	}

	results, err := a.pulp.VerifySchedule(c.Request.Context(), practiceID, date)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"practice_id": practiceID, "date": date, "patients": results})
}

// AskAssistant answers a coverage question grounded on the submitted
// eligibility snapshot.
func (a Api) AskAssistant(c *gin.Context) {
	var req model2.AskAssistant
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateAskAssistant(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := a.pulp.AnswerCoverageQuestion(c.Request.Context(), req.Question, req.Eligibility)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}
