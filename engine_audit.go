package authcore

import (
	"context"
	"strings"

	"github.com/MrEthical07/authcore/internal/flows"
	"go.uber.org/zap"
)

// audit writes one record before the calling operation returns. A sink
// failure is logged and does not change the operation's outcome.
func (e *Engine) audit(ctx context.Context, accountID string, action AuditAction, fsm *flows.Machine, details map[string]string) {
	if details == nil {
		details = make(map[string]string, 1)
	}
	if fsm != nil && e.config.Audit.IncludeFlowState {
		details["state"] = string(fsm.State())
		details["path"] = joinStates(fsm.Path())
	}

	rec := AuditRecord{
		Time:      e.now().UTC(),
		AccountID: accountID,
		Action:    action,
		Details:   details,
	}
	if err := e.auditSink.Record(ctx, rec); err != nil {
		e.logger.Error("audit sink failed",
			zap.String("action", string(action)),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}

func (e *Engine) recordLogin(ctx context.Context, accountID string, successful bool) {
	rec := LoginHistoryRecord{
		Time:       e.now().UTC(),
		AccountID:  accountID,
		Origin:     clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Successful: successful,
	}
	if err := e.history.Record(ctx, rec); err != nil {
		e.logger.Error("login history sink failed",
			zap.String("account_id", accountID),
			zap.Bool("successful", successful),
			zap.Error(err),
		)
	}
}

// rejectLogin records a failed attempt in login history and audit, then
// returns err. A technical err contributes its reference to the audit
// details.
func (e *Engine) rejectLogin(ctx context.Context, accountID string, action AuditAction, fsm *flows.Machine, err error, details map[string]string) error {
	fsm.Reject()
	if details == nil {
		details = make(map[string]string, 3)
	}
	details["reason"] = ErrorCode(err)
	if ref := ErrorReference(err); ref != "" {
		details["reference"] = ref
	}

	e.recordLogin(ctx, accountID, false)
	e.audit(ctx, accountID, action, fsm, details)
	return err
}

func joinStates(states []flows.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}
