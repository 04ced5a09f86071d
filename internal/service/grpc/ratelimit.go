package grpcsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Ярусы лимитов: вход и регистрация строже остальных вызовов.
const (
	tierStrict  = "strict"
	tierGeneral = "general"

	limitStrict = rate.Limit(2)
	burstStrict = 5

	visitorIdleTTL = 3 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту вызовов на пользователя, а для анонимных
// вызовов на адрес клиента. Интерсептор ставится после Auth, чтобы видеть сессию.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
	now      func() time.Time
}

// NewRateLimiter создаёт лимитер общего яруса; rps <= 0 отключает ограничение.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Unary возвращает unary-интерсептор.
func (l *RateLimiter) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.allow(ctx, info.FullMethod) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// Stream возвращает stream-интерсептор. Лимит считается на открытие стрима.
func (l *RateLimiter) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !l.allow(ss.Context(), info.FullMethod) {
			return status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(srv, ss)
	}
}

func (l *RateLimiter) allow(ctx context.Context, method string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	limit, burst, tier := l.limit, l.burst, tierGeneral
	if method == MethodSignIn || method == MethodRegister {
		limit, burst, tier = limitStrict, burstStrict, tierStrict
	}

	key := fmt.Sprintf("%s:%s", identity(ctx), tier)
	return l.visitor(key, limit, burst).Allow()
}

func (l *RateLimiter) visitor(key string, limit rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > visitorIdleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func identity(ctx context.Context) string {
	if session, ok := SessionFromContext(ctx); ok {
		return "user:" + session.UserID
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "peer:" + p.Addr.String()
	}
	return "anonymous"
}
