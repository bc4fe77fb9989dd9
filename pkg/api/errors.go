package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
)

// statusForCode maps the apperrors.Code taxonomy onto the HTTP status the
// spec's worked examples expect (lease conflicts as 409, not-found as 404,
// everything policy/capability/quota-shaped as 403, validation as 400).
var statusForCode = map[apperrors.Code]int{
	apperrors.CodeAgentPrincipalRequired:   http.StatusBadRequest,
	apperrors.CodeAgentPrincipalNotFound:   http.StatusNotFound,
	apperrors.CodeAgentActorIDMismatch:     http.StatusConflict,
	apperrors.CodeCapabilityTokenInvalid:      http.StatusForbidden,
	apperrors.CodeCapabilityTokenRevoked:      http.StatusForbidden,
	apperrors.CodeCapabilityTokenExpired:      http.StatusForbidden,
	apperrors.CodeCapabilityPrincipalMismatch: http.StatusForbidden,
	apperrors.CodeEngineActionNotAllowed:      http.StatusForbidden,
	apperrors.CodeEngineRoomNotAllowed:        http.StatusForbidden,
	apperrors.CodeEngineRoomScopeRequired:     http.StatusBadRequest,
	apperrors.CodeEngineInactive:              http.StatusForbidden,
	apperrors.CodeEngineTokenExpired:          http.StatusForbidden,
	apperrors.CodeCapabilityScopeMissing:      http.StatusForbidden,
	apperrors.CodeExternalWriteKillSwitch: http.StatusForbidden,
	apperrors.CodeAgentQuarantined:        http.StatusForbidden,
	apperrors.CodePolicyDenied:            http.StatusForbidden,
	apperrors.CodeApprovalRequired:        http.StatusAccepted,
	apperrors.CodePermissionDenied:        http.StatusForbidden,
	apperrors.CodeQuotaExceeded:           http.StatusTooManyRequests,
	apperrors.CodeZoneMismatch:            http.StatusForbidden,
	apperrors.CodeDataAccessDenied:              http.StatusForbidden,
	apperrors.CodeDataAccessPurposeHintMismatch: http.StatusForbidden,
	apperrors.CodeRunLocked:          http.StatusConflict,
	apperrors.CodeLeaseTokenMismatch: http.StatusConflict,
	apperrors.CodeLeaseExpired:       http.StatusConflict,
	apperrors.CodeRunNotClaimable:    http.StatusConflict,
	apperrors.CodeIdempotencyConflictUnresolved: http.StatusConflict,
	apperrors.CodeAppendOnlyViolation:           http.StatusConflict,
	apperrors.CodeStreamSeqGapDetected:          http.StatusConflict,
	apperrors.CodeSignatureRequired:             http.StatusBadRequest,
	apperrors.CodeVerifyHashMismatch:            http.StatusConflict,
	apperrors.CodeManifestMissingRequiredFields: http.StatusBadRequest,
	apperrors.CodeIncidentCloseBlockedMissingRCA:      http.StatusConflict,
	apperrors.CodeIncidentCloseBlockedMissingLearning: http.StatusConflict,
	apperrors.CodeEvidenceNotFinalized: http.StatusNotFound,

	// Not-found codes raised ad hoc by Get methods (runlifecycle.Get,
	// approval.Get) via apperrors.New with a literal code rather than one
	// of the named constants above.
	apperrors.Code("run_not_found"):      http.StatusNotFound,
	apperrors.Code("approval_not_found"): http.StatusNotFound,
}

// writeError translates a service-layer error into the { error, reason_code }
// response body the HTTP surface exposes uniformly across every handler.
func writeError(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		status, known := statusForCode[appErr.Code]
		if !known {
			status = http.StatusBadRequest
		}
		body := gin.H{"error": appErr.Message, "reason_code": string(appErr.Code)}
		if appErr.Context != nil {
			body["context"] = appErr.Context
		}
		c.JSON(status, body)
		return
	}
	if err == pgx.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	slog.Error("unexpected api error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
