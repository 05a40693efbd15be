package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound           ErrCode = "NOT_FOUND"
	ErrAssessmentNotFound ErrCode = "ASSESSMENT_NOT_FOUND"
	ErrAttemptNotFound    ErrCode = "ATTEMPT_NOT_FOUND"
	ErrForbidden          ErrCode = "FORBIDDEN"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"
	ErrUnknownQuestion  ErrCode = "UNKNOWN_QUESTION"
	ErrAttemptSubmitted ErrCode = "ATTEMPT_ALREADY_SUBMITTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	case ErrNotFound:
		return "Resource not found."
	case ErrAssessmentNotFound:
		return "Assessment not found."
	case ErrAttemptNotFound:
		return "Attempt not found or no longer running."
	case ErrForbidden:
		return "This attempt belongs to another examinee."

	case ErrNoQuestions:
		return "This assessment has no questions that can be attempted."
	case ErrUnknownQuestion:
		return "The question is not part of this attempt."
	case ErrAttemptSubmitted:
		return "This attempt has already been submitted."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
