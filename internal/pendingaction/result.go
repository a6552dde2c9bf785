package pendingaction

import (
	"errors"

	"github.com/lendflow/lendflow/internal/platform/httpx"
	"github.com/lendflow/lendflow/internal/shared"
)

// Result is the envelope returned to callers of the workflow.
type Result = httpx.Result

// ResultFromError converts a workflow error into a failed Result. Messages
// are safe to show; unknown errors collapse to a generic message.
func ResultFromError(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	res := Result{Success: false, Message: shared.UserSafeMessage(err)}
	var fe httpx.FieldErrorer
	if errors.As(err, &fe) {
		res.FieldErrors = fe.FieldErrors()
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		res.Message = "the approved action could not be completed: " + ee.Detail
	}
	if cur, ok := CurrentState(err); ok {
		res.Message = ErrInvalidTransition.Error() + " (status " + string(cur.Status) + ")"
		res.Data = cur
	}
	return res
}

// ResultOf wraps data or err in a Result.
func ResultOf(data any, err error) Result {
	if err != nil {
		return ResultFromError(err)
	}
	return Result{Success: true, Data: data}
}
