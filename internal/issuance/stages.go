package issuance

import (
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
)

// Stage is one step of the issuance saga.
type Stage string

const (
	StageAllocating             Stage = "Allocating"
	StageFingerprintComputed    Stage = "FingerprintComputed"
	StageProvisionallyPersisted Stage = "ProvisionallyPersisted"
	StageDocumentRendered       Stage = "DocumentRendered"
	StageDocumentUploaded       Stage = "DocumentUploaded"
	StageLedgerWritten          Stage = "LedgerWritten"
	StageFinalized              Stage = "Finalized"
	StageNotified               Stage = "Notified"
	StageCleaned                Stage = "Cleaned"
)

// Stages lists the saga in execution order.
var Stages = []Stage{
	StageAllocating,
	StageFingerprintComputed,
	StageProvisionallyPersisted,
	StageDocumentRendered,
	StageDocumentUploaded,
	StageLedgerWritten,
	StageFinalized,
	StageNotified,
	StageCleaned,
}

func (s Stage) String() string {
	return string(s)
}

type failureClass int

const (
	classHard failureClass = iota
	classSoft
)

func (c failureClass) String() string {
	if c == classSoft {
		return "soft"
	}
	return "hard"
}

type compensation int

const (
	compensateNone compensation = iota
	// compensateFail marks the provisional row failed and removes the temp file.
	compensateFail
	// compensateRetryCleanup schedules one delayed removal of the temp file.
	compensateRetryCleanup
)

type stagePolicy struct {
	class      failureClass
	code       pkgerrors.Code
	compensate compensation
}

// policies is the saga failure table. Soft stages degrade and continue; hard
// stages abort with code after running their compensation.
var policies = map[Stage]stagePolicy{
	StageAllocating:             {class: classHard, code: pkgerrors.CodeDependency, compensate: compensateNone},
	StageFingerprintComputed:    {class: classHard, code: pkgerrors.CodeInternal, compensate: compensateNone},
	StageProvisionallyPersisted: {class: classHard, code: pkgerrors.CodeDependency, compensate: compensateNone},
	StageDocumentRendered:       {class: classHard, code: pkgerrors.CodeRenderingFailure, compensate: compensateFail},
	StageDocumentUploaded:       {class: classHard, code: pkgerrors.CodeUploadFailure, compensate: compensateFail},
	// Ledger unavailability never reaches this table: the client writes the
	// local fallback record and the stage degrades. An error means the
	// fallback write failed as well.
	StageLedgerWritten:          {class: classHard, code: pkgerrors.CodeDependency, compensate: compensateFail},
	StageFinalized:              {class: classHard, code: pkgerrors.CodeDependency, compensate: compensateFail},
	StageNotified:               {class: classSoft, code: pkgerrors.CodeDependency, compensate: compensateNone},
	StageCleaned:                {class: classSoft, code: pkgerrors.CodeInternal, compensate: compensateRetryCleanup},
}

func policyFor(stage Stage) stagePolicy {
	if p, ok := policies[stage]; ok {
		return p
	}
	return stagePolicy{class: classHard, code: pkgerrors.CodeInternal}
}

// StageStatus is the outcome recorded for a stage.
type StageStatus string

const (
	StageStatusCompleted StageStatus = "completed"
	StageStatusDegraded  StageStatus = "degraded"
	StageStatusFailed    StageStatus = "failed"
)

// StageOutcome is one entry of the issuance trace.
type StageOutcome struct {
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}
