package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepositoryInMemory struct {
	mu      sync.Mutex
	records map[domain.IdempotencyKey]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyRepository(func() time.Time { return time.Now().UTC() })
}

func newIdempotencyRepository(now func() time.Time) *idempotencyRepositoryInMemory {
	return &idempotencyRepositoryInMemory{
		records: make(map[domain.IdempotencyKey]domain.IdempotencyRecord),
		now:     now,
	}
}

func (r *idempotencyRepositoryInMemory) Reserve(key domain.IdempotencyKey, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	if err := key.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return cloneIdempotencyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneIdempotencyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return record, nil
}

func (r *idempotencyRepositoryInMemory) Get(key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	if err := key.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) Settle(key domain.IdempotencyKey, outcome domain.IdempotencyOutcome) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}

	record.Status = outcome.Status
	record.Code = outcome.Code
	record.Body = append([]byte(nil), outcome.Body...)
	record.UpdatedAt = r.now()
	r.records[key] = record
	return nil
}

func (r *idempotencyRepositoryInMemory) Release(key domain.IdempotencyKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok || record.Status != domain.IdempotencyStatusProcessing {
		return domain.ErrIdempotencyKeyNotFound
	}
	delete(r.records, key)
	return nil
}

// DeleteExpired удаляет сначала самые старые по сроку записи, как и postgres-реализация.
func (r *idempotencyRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.Body = append([]byte(nil), src.Body...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
