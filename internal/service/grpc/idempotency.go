package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

const (
	idempotencyKeyHeader  = "idempotency-key"
	defaultIdempotencyTTL = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза на idempotency-key.
// Заголовок опционален: без него вызов выполняется как обычно. Ключ действует в
// пределах пользователя и метода. Повтор с тем же телом получает сохранённый
// ответ, с другим телом получает AlreadyExists. Временные отказы не
// запоминаются: ключ освобождается, и повтор выполняет handler заново.
func withIdempotency[Resp any](
	s *MarketService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*Resp, error),
) (*Resp, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	clientKey := readIdempotencyKey(ctx)
	if clientKey == "" {
		return handler(ctx)
	}

	var userID string
	if session, ok := SessionFromContext(ctx); ok {
		userID = session.UserID
	}
	key := domain.NewIdempotencyKey(userID, method, clientKey)
	logger := s.logger.WithField("idempotency_key", key.String())

	reqHash, err := buildIdempotencyRequestHash(req)
	if err != nil {
		logger.WithError(err).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.Reserve(key, reqHash, time.Now().UTC().Add(s.idemTTL))
	if err != nil {
		return replayIdempotency[Resp](logger, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil && transientFailure(runErr) {
		if releaseErr := s.idemRepo.Release(key); releaseErr != nil {
			logger.WithError(releaseErr).Warn("failed to release idempotency key")
		}
		return nil, runErr
	}

	outcome := successOutcome(resp)
	if runErr != nil {
		outcome = failureOutcome(runErr)
	}
	if settleErr := s.idemRepo.Settle(key, outcome); settleErr != nil {
		logger.WithError(settleErr).WithField("status", outcome.Status).Warn("failed to store idempotent response")
	}

	if runErr != nil {
		return nil, runErr
	}
	return resp, nil
}

// transientFailure отличает отказы, после которых повтор с тем же ключом
// может пройти.
func transientFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func replayIdempotency[Resp any](logger *log.Entry, reserveErr error, record domain.IdempotencyRecord) (*Resp, error) {
	switch {
	case errors.Is(reserveErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case !errors.Is(reserveErr, domain.ErrIdempotencyKeyAlreadyExists):
		logger.WithError(reserveErr).Warn("failed to reserve idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case domain.IdempotencyStatusFailed:
		return nil, decodeIdempotencyFailure(record)
	case domain.IdempotencyStatusDone:
		if len(record.Body) == 0 {
			return nil, status.Error(codes.Internal, "idempotency cache is empty")
		}
		resp := new(Resp)
		if err := json.Unmarshal(record.Body, resp); err != nil {
			logger.WithError(err).Warn("failed to decode cached idempotency response")
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return resp, nil
	default:
		return nil, status.Error(codes.Internal, "unknown idempotency record status")
	}
}

// successOutcome кодирует ответ; если его не удалось сериализовать, повтор
// получит Internal вместо повторного выполнения.
func successOutcome(resp any) domain.IdempotencyOutcome {
	data, err := json.Marshal(resp)
	if err != nil {
		return domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Code: int(codes.Internal)}
	}
	return domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Code: int(codes.OK), Body: data}
}

func failureOutcome(runErr error) domain.IdempotencyOutcome {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	// Ошибка маршалинга невозможна для двух скалярных полей.
	payload, _ := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	return domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Code: int(code), Body: payload}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.Body) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.Body, &payload); err == nil {
			if code, ok := grpcCode(int64(payload.Code)); ok && code != codes.OK {
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if code, ok := grpcCode(int64(record.Code)); ok && code != codes.OK {
		return status.Error(code, "previous request with the same idempotency key failed")
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(idempotencyKeyHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// buildIdempotencyRequestHash хеширует тело запроса; метод и пользователь
// уже входят в сам ключ.
func buildIdempotencyRequestHash(req any) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
