package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"commitbot/internal/commitment"
	logx "commitbot/pkg/logx"
)

// HandlerFunc handles one routed update.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest promotes successful requests to info level.
const slowRequest = 750 * time.Millisecond

// wrap applies mws around h; the first middleware runs outermost.
func wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error.
func recoverPanics(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.logger(log).Error("handler panic", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("handler panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logOutcome logs each request once. Not-found and validation rejections log at
// info; every other failure warns.
func logOutcome(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := req.logger(log).With(logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took))
			switch kind := commitment.KindOf(err); {
			case err == nil && took >= slowRequest:
				l.Info("slow request")
			case err == nil:
				l.Debug("request handled")
			case kind == commitment.KindNotFound || kind == commitment.KindValidation:
				l.Info("request rejected", logx.String("error_kind", string(kind)), logx.Err(err))
			default:
				l.Warn("request failed", logx.String("error_kind", string(kind)), logx.Err(err))
			}
			return err
		}
	}
}
