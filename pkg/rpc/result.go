package rpc

import (
	"fmt"

	"github.com/zeusync/topicrpc/pkg/wire"
)

// Result is what a Handler produces: either a reply value encoded with the
// reply schema, or an explicit status sent with an empty body.
type Result struct {
	value  any
	status *wire.Status
}

func Reply(v any) Result {
	return Result{value: v}
}

func Abort(s wire.Status) Result {
	return Result{status: &s}
}

func Abortf(code wire.StatusCode, format string, args ...any) Result {
	return Abort(wire.Statusf(code, format, args...))
}

func (r Result) Value() (any, bool) {
	return r.value, r.status == nil
}

func (r Result) Status() (wire.Status, bool) {
	if r.status == nil {
		return wire.Status{}, false
	}
	return *r.status, true
}

// detailed renders err with its stack trace when it has one.
func detailed(err error) string {
	return fmt.Sprintf("%+v", err)
}
