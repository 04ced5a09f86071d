package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

const authorizationHeader = "authorization"

// Authenticator проверяет токен и восстанавливает по нему сессию.
type Authenticator interface {
	Authenticate(token string) (domain.Session, error)
}

type sessionKey struct{}

// ContextWithSession кладёт сессию в контекст запроса.
func ContextWithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext достаёт сессию, положенную auth-интерсептором.
func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(domain.Session)
	if !ok || !session.Authenticated() {
		return nil, false
	}
	return &session, true
}

// publicMethods доступны без входа.
var publicMethods = map[string]bool{
	MethodRegister:       true,
	MethodSignIn:         true,
	MethodGetProduct:     true,
	MethodSearchProducts: true,
}

// Auth проверяет токен из metadata authorization и кладёт сессию в контекст.
// Методы площадки вне publicMethods без валидного токена получают Unauthenticated.
type Auth struct {
	authenticator Authenticator
	logger        *log.Entry
}

// NewAuth создаёт auth-интерсепторы.
func NewAuth(authenticator Authenticator, logger *log.Entry) *Auth {
	if logger == nil {
		logger = log.WithField("component", "grpc-auth")
	}
	return &Auth{authenticator: authenticator, logger: logger}
}

// Unary возвращает unary-интерсептор.
func (a *Auth) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := a.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream возвращает stream-интерсептор.
func (a *Auth) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &sessionStream{ServerStream: ss, ctx: ctx})
	}
}

func (a *Auth) authorize(ctx context.Context, method string) (context.Context, error) {
	if !strings.HasPrefix(method, "/"+ServiceName+"/") {
		return ctx, nil
	}

	token := bearerToken(ctx)
	if token == "" {
		if publicMethods[method] {
			return ctx, nil
		}
		return ctx, status.Error(codes.Unauthenticated, "authorization metadata is required")
	}

	session, err := a.authenticator.Authenticate(token)
	if err != nil {
		a.logger.WithError(err).WithField("method", method).Debug("token rejected")
		return ctx, status.Error(codes.Unauthenticated, domain.ErrUnauthenticated.Error())
	}
	return ContextWithSession(ctx, session), nil
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(authorizationHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// sessionStream подменяет контекст стрима контекстом с сессией.
type sessionStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *sessionStream) Context() context.Context {
	return s.ctx
}
