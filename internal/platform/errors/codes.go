// Package errors provides structured error handling for the
// adjudication pipeline: machine-readable codes, the pipeline phase an
// error surfaced in, and HTTP status mapping for the API boundary.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Challenge request errors
	CodeChallengeInvalidID         Code = "CHALLENGE_INVALID_ID"
	CodeChallengeInvalidActivities Code = "CHALLENGE_INVALID_ACTIVITIES"

	// Capture errors
	CodeCaptureFailed       Code = "CAPTURE_FAILED"
	CodeCaptureTimeout      Code = "CAPTURE_TIMEOUT"
	CodeAuthenticationStale Code = "AUTHENTICATION_STALE"

	// Compression errors
	CodeCompressionFailure Code = "COMPRESSION_FAILURE"

	// Adjudication errors
	CodeModelRequestFailed   Code = "MODEL_REQUEST_FAILED"
	CodeModelOutputMalformed Code = "MODEL_OUTPUT_MALFORMED"

	// Settlement errors
	CodeNetworkMismatch Code = "NETWORK_MISMATCH"
	CodeChainRejected   Code = "CHAIN_REJECTED"
	CodeChainTimeout    Code = "CHAIN_TIMEOUT"

	// Storage errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeRunInProgress  Code = "RUN_IN_PROGRESS"
)

// Phase identifies the pipeline stage an error surfaced in. It is
// reported to the HTTP caller so retry decisions can be made without
// parsing messages.
type Phase string

const (
	// PhaseNone marks errors outside the pipeline (request validation).
	PhaseNone Phase = ""
	// PhaseCapture covers browser evidence acquisition.
	PhaseCapture Phase = "capture"
	// PhaseCompress covers image normalization.
	PhaseCompress Phase = "compress"
	// PhaseAdjudicate covers the reasoning request and outcome parsing.
	PhaseAdjudicate Phase = "adjudicate"
	// PhaseSettle covers the on-chain write.
	PhaseSettle Phase = "settle"
)

// HTTPStatus maps a code to the status the API boundary reports.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeChallengeInvalidID, CodeChallengeInvalidActivities:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRunInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
