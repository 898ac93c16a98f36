package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/approval"
)

type signaturePayload struct {
	RequestID          string   `json:"requestId"`
	ApprovalID         string   `json:"approvalId"`
	StepID             string   `json:"stepId"`
	StepIndex          int      `json:"stepIndex"`
	RevisionVersion    int      `json:"revisionVersion"`
	Reviewer           string   `json:"reviewer"`
	Source             string   `json:"source"`
	Action             string   `json:"action"`
	Decision           string   `json:"decision,omitempty"`
	AssigneeSlot       *int     `json:"assigneeSlot,omitempty"`
	EscalatedReviewer  bool     `json:"escalatedReviewer,omitempty"`
	Escalation         string   `json:"escalation,omitempty"`
	Comments           string   `json:"comments,omitempty"`
	SuggestedChanges   []string `json:"suggestedChanges,omitempty"`
	CriteriaAssessment string   `json:"criteriaAssessment,omitempty"`
	Seq                int      `json:"seq"`
	CreatedAt          string   `json:"createdAt"`
	Prev               string   `json:"prev,omitempty"`
}

func buildSignaturePayload(requestID uuid.UUID, rec *approval.ContentApproval, prev []byte) (signaturePayload, error) {
	payload := signaturePayload{
		RequestID:         requestID.String(),
		ApprovalID:        rec.ApprovalID.String(),
		StepID:            rec.StepID,
		StepIndex:         rec.StepIndex,
		RevisionVersion:   rec.RevisionVersion,
		Reviewer:          rec.Reviewer,
		Source:            string(rec.Source),
		Action:            string(rec.Action),
		Decision:          string(rec.Decision),
		AssigneeSlot:      rec.AssigneeSlot,
		EscalatedReviewer: rec.EscalatedReviewer,
		Comments:          rec.Comments,
		SuggestedChanges:  rec.SuggestedChanges,
		Seq:               rec.Seq,
		CreatedAt:         rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(rec.Escalation) > 0 {
		data, err := json.Marshal(rec.Escalation)
		if err != nil {
			return payload, err
		}
		payload.Escalation = base64.StdEncoding.EncodeToString(data)
	}
	if len(rec.CriteriaAssessment) > 0 {
		data, err := json.Marshal(rec.CriteriaAssessment)
		if err != nil {
			return payload, err
		}
		payload.CriteriaAssessment = base64.StdEncoding.EncodeToString(data)
	}
	if len(prev) > 0 {
		payload.Prev = base64.StdEncoding.EncodeToString(prev)
	}
	return payload, nil
}

// SignRecord generates an HMAC signature for a decision record. prev is the
// signature of the record before it, which links the log into a chain.
func SignRecord(requestID uuid.UUID, rec *approval.ContentApproval, prev, key []byte) ([]byte, error) {
	payload, err := buildSignaturePayload(requestID, rec, prev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyRecordSignature verifies the HMAC signature for a decision record.
func VerifyRecordSignature(requestID uuid.UUID, rec *approval.ContentApproval, prev, key []byte) (bool, error) {
	if len(rec.Signature) == 0 {
		return false, nil
	}
	expected, err := SignRecord(requestID, rec, prev, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, rec.Signature), nil
}

// SignChain signs every record that carries no signature yet, in order.
// Records already signed are left alone.
func SignChain(requestID uuid.UUID, records []*approval.ContentApproval, key []byte) error {
	var prev []byte
	for _, rec := range records {
		if len(rec.Signature) == 0 {
			sig, err := SignRecord(requestID, rec, prev, key)
			if err != nil {
				return err
			}
			rec.Signature = sig
		}
		prev = rec.Signature
	}
	return nil
}

// ChainReport is the outcome of verifying a request's decision log.
type ChainReport struct {
	Verified bool `json:"verified"`
	Signed   int  `json:"signed"`
	Unsigned int  `json:"unsigned"`
	// BrokenAt is the seq of the first record whose signature does not
	// match its content or its predecessor.
	BrokenAt *int `json:"brokenAt,omitempty"`
}

// VerifyChain checks every record against key and its predecessor.
func VerifyChain(requestID uuid.UUID, records []*approval.ContentApproval, key []byte) (*ChainReport, error) {
	report := &ChainReport{}
	var prev []byte
	for _, rec := range records {
		if len(rec.Signature) == 0 {
			report.Unsigned++
			prev = nil
			continue
		}
		ok, err := VerifyRecordSignature(requestID, rec, prev, key)
		if err != nil {
			return nil, err
		}
		if !ok && report.BrokenAt == nil {
			seq := rec.Seq
			report.BrokenAt = &seq
		}
		report.Signed++
		prev = rec.Signature
	}
	report.Verified = report.BrokenAt == nil && report.Unsigned == 0
	return report, nil
}
