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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	redlock "github.com/pulphealth/pulp/internal/lock"
	"github.com/pulphealth/pulp/model"
	"github.com/pulphealth/pulp/provider"
)

const retryDrainLockKey = "retry:drain:lock"

var tracer = otel.Tracer("Verify patient")

func logAndRecordError(span trace.Span, msg string, err error) {
	span.RecordError(err)
	logrus.WithError(err).Warn(msg)
}

// VerificationRequest identifies one patient visit to verify.
type VerificationRequest struct {
	PracticeID        string       `json:"practice_id"`
	PatientExternalID string       `json:"patient_external_id,omitempty"`
	MemberID          string       `json:"member_id"`
	FirstName         string       `json:"first_name"`
	LastName          string       `json:"last_name"`
	DateOfBirth       string       `json:"date_of_birth,omitempty"`
	PayerID           string       `json:"payer_id,omitempty"`
	ProcedureText     string       `json:"procedure_text,omitempty"`
	PlannedCDTCodes   []string     `json:"planned_cdt_codes,omitempty"`
	ToothHistory      []ToothEvent `json:"tooth_history,omitempty"`
	// WriteBack pushes the triage note and color flag into the PMS chart
	// after a successful verification.
	WriteBack bool `json:"write_back,omitempty"`
}

// VerificationResult is the structured outcome of one attempt. Exactly
// one of Eligibility or Outage carries the story: an outage still
// produces a triage result (critical, verification errored) so the
// front desk sees a consistent state machine.
type VerificationResult struct {
	Eligibility  *model.Eligibility      `json:"eligibility,omitempty"`
	Triage       TriageResult            `json:"triage"`
	Integrity    IntegrityReport         `json:"integrity"`
	HipaaActions []model.HipaaCodeAction `json:"hipaa_actions,omitempty"`
	Summary      string                  `json:"summary,omitempty"`
	Outage       *SystemOutage           `json:"outage,omitempty"`
	VerifiedAt   time.Time               `json:"verified_at"`
}

// PatientVerification pairs a scheduled patient with their result for
// the day-view endpoints.
type PatientVerification struct {
	Patient model.SchedulePatient `json:"patient"`
	Result  *VerificationResult   `json:"result,omitempty"`
	Skipped string                `json:"skipped,omitempty"`
}

// VerifyPatient runs the full workflow for one patient: fetch through
// the fallback chain, normalize, grade integrity, triage, and
// optionally write the note back to the chart. A total upstream outage
// enqueues an encrypted retry and still returns a usable result.
func (p *Pulp) VerifyPatient(ctx context.Context, req VerificationRequest) *VerificationResult {
	return p.verify(ctx, req, retryPayload(req))
}

func (p *Pulp) verify(ctx context.Context, req VerificationRequest, payload map[string]interface{}) *VerificationResult {
	ctx, span := tracer.Start(ctx, "Verifying patient eligibility")
	defer span.End()

	result := &VerificationResult{VerifiedAt: time.Now().UTC()}

	raw, outage := p.fetchEligibility(ctx, req, payload)
	if outage != nil {
		span.RecordError(errors.New(outage.Message))
		result.Outage = outage
		result.Triage = p.triager.Triage(PatientContext{
			PatientID:         req.PatientExternalID,
			ProcedureText:     req.ProcedureText,
			VerificationError: outage.Message,
		}, nil)
		result.Integrity = EvaluateIntegrity(nil, scheduledProcedures(req))
		return result
	}

	span.AddEvent("normalizing carrier response")
	eligibility := p.normalizer.Normalize(raw)
	codes := model.ExtractAAACodes(raw)
	actions := model.ResolveHipaaCodes(codes)

	pc := PatientContext{
		PatientID:       req.PatientExternalID,
		ProcedureText:   req.ProcedureText,
		PlannedCDTCodes: req.PlannedCDTCodes,
		ToothHistory:    req.ToothHistory,
		CarrierFlags:    carrierFlagsFromHipaa(actions),
	}
	if req.DateOfBirth != "" {
		dob := req.DateOfBirth
		pc.DOB = &dob
	}

	result.Eligibility = eligibility
	result.HipaaActions = actions
	result.Integrity = EvaluateIntegrity(eligibility, scheduledProcedures(req))
	result.Triage = p.triager.Triage(pc, eligibility)
	result.Summary = CoverageSummary(eligibility)

	if req.WriteBack && req.PatientExternalID != "" {
		p.writeBack(ctx, span, req, result)
	}
	return result
}

// fetchEligibility routes the check through the fallback chain. The
// first configured provider is the primary; only its calls move the
// circuit breaker.
func (p *Pulp) fetchEligibility(ctx context.Context, req VerificationRequest, payload map[string]interface{}) (map[string]interface{}, *SystemOutage) {
	if len(p.providers) == 0 {
		return nil, &SystemOutage{Service: "eligibility", Message: "no eligibility providers configured"}
	}

	// A practice hammering the clearinghouse gets throttled before the
	// call leaves the building. Limiter errors fail open: throttling is
	// an optimization, never a reason to block a verification.
	if p.verifyLimit > 0 {
		res, err := p.limiter.Check(ctx, fmt.Sprintf("verify:%s", req.PracticeID), p.verifyLimit, time.Minute)
		if err == nil && !res.Allowed {
			outage := &SystemOutage{
				Service: p.providers[0].Name(),
				Message: fmt.Sprintf("verification rate limit reached for practice %s, retry in %s", req.PracticeID, res.RetryAfter.Round(time.Second)),
			}
			if p.queue != nil && payload != nil {
				if qErr := p.queue.Enqueue(ctx, req.PracticeID, payload, errors.New(outage.Message)); qErr == nil {
					outage.RetryQueued = true
				} else {
					logrus.WithError(qErr).Error("failed to queue throttled verification for retry")
				}
			}
			return nil, outage
		}
	}

	inquiry := provider.EligibilityRequest{
		MemberID:    req.MemberID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		PayerID:     req.PayerID,
		PracticeID:  req.PracticeID,
	}

	calls := make([]FallbackFunc, 0, len(p.providers))
	for _, prov := range p.providers {
		prov := prov
		calls = append(calls, func(ctx context.Context) (interface{}, error) {
			return prov.FetchEligibility(ctx, inquiry)
		})
	}

	fbReq := FallbackRequest{
		Service:      p.providers[0].Name(),
		PracticeID:   req.PracticeID,
		RetryPayload: payload,
	}
	raw, outage := p.orchestrator.WithFallback(ctx, fbReq, calls[0], calls[1:]...)
	if outage != nil {
		return nil, outage
	}
	return raw.(map[string]interface{}), nil
}

// writeBack is best effort. A chart write failing never fails the
// verification that produced it.
func (p *Pulp) writeBack(ctx context.Context, span trace.Span, req VerificationRequest, result *VerificationResult) {
	span.AddEvent("writing verification note to chart")
	if err := p.pms.WriteChartNote(ctx, req.PracticeID, req.PatientExternalID, result.Triage.Note); err != nil {
		logAndRecordError(span, fmt.Sprintf("chart write-back failed for patient %s", req.PatientExternalID), err)
	}
	if err := p.pms.SetTriageColor(ctx, req.PracticeID, req.PatientExternalID, string(result.Triage.Tier)); err != nil {
		logAndRecordError(span, fmt.Sprintf("triage color update failed for patient %s", req.PatientExternalID), err)
	}
}

// Schedule returns the day sheet for a practice, served from the
// in-memory cache when a live copy exists and pulled from the PMS
// otherwise. A fresh pull replaces the cached day.
func (p *Pulp) Schedule(ctx context.Context, practiceID, date string) ([]model.SchedulePatient, error) {
	if patients, ok := p.cache.Get(practiceID, date); ok {
		return patients, nil
	}
	pulled, err := p.pms.PullSchedule(ctx, practiceID, date)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load schedule for practice %s", practiceID)
	}
	p.cache.Set(practiceID, date, pulled)
	return pulled, nil
}

// VerifySchedule verifies every patient on a practice's day sheet.
// Patients without a member id are skipped, not failed.
func (p *Pulp) VerifySchedule(ctx context.Context, practiceID, date string) ([]PatientVerification, error) {
	patients, err := p.Schedule(ctx, practiceID, date)
	if err != nil {
		return nil, err
	}

	results := make([]PatientVerification, 0, len(patients))
	for _, patient := range patients {
		if patient.MemberID == "" {
			results = append(results, PatientVerification{Patient: patient, Skipped: "no member id on file"})
			continue
		}
		req := VerificationRequest{
			PracticeID:        practiceID,
			PatientExternalID: patient.ExternalID,
			MemberID:          patient.MemberID,
			FirstName:         patient.FirstName,
			LastName:          patient.LastName,
			DateOfBirth:       patient.DateOfBirth,
			PayerID:           patient.PayerID,
			ProcedureText:     patient.ProcedureText,
			PlannedCDTCodes:   patient.CDTCodes,
		}
		results = append(results, PatientVerification{Patient: patient, Result: p.VerifyPatient(ctx, req)})
	}
	return results, nil
}

// ProcessRetries drains one bounded batch of ready retry entries. A
// Redis lock keeps overlapping worker instances from replaying the same
// entries; losing the lock race is a no-op, not an error. Returns how
// many entries verified successfully this pass.
func (p *Pulp) ProcessRetries(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Draining retry queue")
	defer span.End()

	locker := redlock.NewLocker(p.redis, retryDrainLockKey, uuid.New().String())
	if err := locker.Lock(ctx, 30*time.Second); err != nil {
		logrus.Debugf("retry drain skipped: %v", err)
		return 0, nil
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.WithError(err).Warn("failed to release retry drain lock")
		}
	}()

	entries, err := p.queue.DequeueReady(ctx, 0)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, entry := range entries {
		req := requestFromPayload(entry.PracticeID, entry.Payload)
		result := p.verify(ctx, req, nil)
		if result.Outage != nil {
			if err := p.queue.ReEnqueueOrFail(ctx, entry, errors.New(result.Outage.Message)); err != nil {
				logrus.WithError(err).Errorf("failed to reschedule retry %s", entry.ID)
			}
			continue
		}
		if err := p.queue.Complete(ctx, entry); err != nil {
			logrus.WithError(err).Errorf("failed to complete retry %s", entry.ID)
			continue
		}
		processed++
	}
	if len(entries) > 0 {
		logrus.Infof("retry drain processed %d of %d ready entr(ies)", processed, len(entries))
	}
	return processed, nil
}

// DeadLetteredRetries lists the entries parked for manual review.
func (p *Pulp) DeadLetteredRetries(ctx context.Context) ([]RetryEntry, error) {
	return p.queue.DeadLettered(ctx)
}

// AnswerCoverageQuestion grounds the AI assistant on the deterministic
// coverage summary for a patient's latest eligibility.
func (p *Pulp) AnswerCoverageQuestion(ctx context.Context, question string, eligibility *model.Eligibility) (string, error) {
	return p.assistant.Answer(ctx, question, CoverageSummary(eligibility))
}

// retryPayload is the minimal identity needed to replay a verification
// later. It is sealed before it ever reaches the store.
func retryPayload(req VerificationRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"member_id":     req.MemberID,
		"first_name":    req.FirstName,
		"last_name":     req.LastName,
		"date_of_birth": req.DateOfBirth,
		"payer_id":      req.PayerID,
	}
	if req.PatientExternalID != "" {
		payload["patient_external_id"] = req.PatientExternalID
	}
	if req.ProcedureText != "" {
		payload["procedure_text"] = req.ProcedureText
	}
	if len(req.PlannedCDTCodes) > 0 {
		codes := make([]interface{}, 0, len(req.PlannedCDTCodes))
		for _, code := range req.PlannedCDTCodes {
			codes = append(codes, code)
		}
		payload["planned_cdt_codes"] = codes
	}
	return payload
}

func requestFromPayload(practiceID string, payload map[string]interface{}) VerificationRequest {
	req := VerificationRequest{
		PracticeID:        practiceID,
		PatientExternalID: payloadString(payload, "patient_external_id"),
		MemberID:          payloadString(payload, "member_id"),
		FirstName:         payloadString(payload, "first_name"),
		LastName:          payloadString(payload, "last_name"),
		DateOfBirth:       payloadString(payload, "date_of_birth"),
		PayerID:           payloadString(payload, "payer_id"),
		ProcedureText:     payloadString(payload, "procedure_text"),
	}
	if codes, ok := payload["planned_cdt_codes"].([]interface{}); ok {
		for _, code := range codes {
			if s, ok := code.(string); ok {
				req.PlannedCDTCodes = append(req.PlannedCDTCodes, s)
			}
		}
	}
	return req
}

// scheduledProcedures folds the request's planned work into the list
// the integrity grader gates benefit relevance on.
func scheduledProcedures(req VerificationRequest) []string {
	var procs []string
	if req.ProcedureText != "" {
		procs = append(procs, req.ProcedureText)
	}
	procs = append(procs, req.PlannedCDTCodes...)
	return procs
}

func payloadString(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// carrierFlagsFromHipaa turns carrier adjustment guidance into triage
// carrier flags. Critical adjustments require a call before treatment;
// the rest surface as generic warnings with the carrier's wording.
func carrierFlagsFromHipaa(actions []model.HipaaCodeAction) []CarrierFlag {
	flags := make([]CarrierFlag, 0, len(actions))
	for _, action := range actions {
		switch action.Severity {
		case model.HipaaCritical:
			flags = append(flags, CarrierFlag{Code: flagCallCarrier, Description: action.Label})
		case model.HipaaWarning:
			flags = append(flags, CarrierFlag{Code: fmt.Sprintf("aaa_%d", action.Code), Description: action.Label})
		}
	}
	return flags
}
