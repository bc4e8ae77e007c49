package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "predictbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("command handler panicked",
						logx.String("cmd", req.Command),
						logx.Int64("from_id", req.FromID),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("command %s: panic: %v", req.Command, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// requireAccess rejects requests the command's Access level does not allow.
// Admin commands answer with a refusal; target-chat commands stay silent elsewhere.
func (r *Router) requireAccess(access Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			info := r.deps.Info()
			switch access {
			case AccessAdmin:
				if !isAdmin(info, req.FromID) {
					r.log.Info("admin command denied", logx.String("cmd", req.Command), logx.Int64("from_id", req.FromID))
					return r.reply(ctx, req, "Эта команда доступна только администратору бота.")
				}
			case AccessTargetChat:
				if info.TargetChatID == 0 || req.Chat.ChatID != info.TargetChatID {
					return nil
				}
			}
			return next(ctx, req)
		}
	}
}

func logCommand(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
				return err
			}
			log.Debug("command handled", fields...)
			return nil
		}
	}
}
