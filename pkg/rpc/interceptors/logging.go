package interceptors

import (
	"time"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/rpc"
	"github.com/zeusync/topicrpc/pkg/wire"
)

const loggingStartKey = "logging.start"

// Logging logs every finished call. OK is logged at info, INTERNAL_ERROR at
// error and every other status at warn.
type Logging struct {
	logger log.Log
}

var _ rpc.Interceptor = (*Logging)(nil)

func NewLogging(logger log.Log) *Logging {
	if logger == nil {
		logger = log.Provide()
	}
	return &Logging{logger: logger.Named("rpc")}
}

func (m *Logging) Name() string {
	return "logging"
}

func (m *Logging) BeforeCall(ctx *rpc.Context) error {
	ctx.Set(loggingStartKey, time.Now())
	return nil
}

func (m *Logging) AfterCall(ctx *rpc.Context) error {
	start, ok := ctx.Get(loggingStartKey)
	if !ok {
		return errMissingStart
	}
	took := time.Since(start.(time.Time))
	status := ctx.Status()

	fields := []log.Field{
		log.String("service", ctx.Service()),
		log.Stringer("side", ctx.Side()),
		log.Duration("took", took),
		log.Stringer("status", status.Code),
		log.String("request", ctx.Request.ShortString()),
	}
	switch status.Code {
	case wire.StatusOK:
		m.logger.Info("rpc finished", fields...)
	case wire.StatusInternalError:
		m.logger.Error("rpc failed", append(fields, log.String("why", status.Why))...)
	default:
		m.logger.Warn("rpc finished without success", append(fields, log.String("why", status.Why))...)
	}
	return nil
}
