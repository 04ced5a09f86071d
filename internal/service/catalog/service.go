// Package catalog — товары продавцов: публикация, изменение, удаление,
// загрузка изображений и живые списки для продавца и покупателя.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
)

const (
	// MaxImageSize — предельный размер загружаемого изображения.
	MaxImageSize = 5 << 20

	imagePrefix    = "products/images/"
	maxSaveRetries = 3
)

// Service управляет каталогом товаров.
type Service struct {
	products domain.ProductRepository
	blobs    domain.BlobStore
	validate *validator.Validate
	metrics  *metrics.MarketMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис каталога. blobs может быть nil, тогда загрузка
// изображений недоступна.
func NewService(products domain.ProductRepository, blobs domain.BlobStore, marketMetrics *metrics.MarketMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{
		products: products,
		blobs:    blobs,
		validate: newValidator(),
		metrics:  marketMetrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish проверяет форму и публикует товар от имени продавца.
func (s *Service) Publish(ctx context.Context, session *domain.Session, in ProductInput) (domain.Product, error) {
	if err := requireProducer(session); err != nil {
		return domain.Product{}, err
	}

	parsed, err := parse(s.validate, in)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product := domain.Product{
		ID:        uuid.NewString(),
		SellerID:  session.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyParsed(&product, parsed)

	if err := s.products.Create(ctx, product); err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}

	s.metrics.RecordProductPublished()
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"seller_id":  product.SellerID,
		"category":   product.Category,
	}).Info("product published")
	return product, nil
}

// Update применяет patch к товару владельца. Итоговая форма проходит ту же
// проверку, что и при публикации.
func (s *Service) Update(ctx context.Context, session *domain.Session, id string, patch ProductPatch) (domain.Product, error) {
	if err := requireProducer(session); err != nil {
		return domain.Product{}, err
	}

	for attempt := 0; ; attempt++ {
		current, err := s.owned(ctx, session, id)
		if err != nil {
			return domain.Product{}, err
		}

		parsed, err := parse(s.validate, patch.apply(inputFromProduct(current)))
		if err != nil {
			return domain.Product{}, err
		}

		updated := current
		applyParsed(&updated, parsed)
		updated.UpdatedAt = s.now()

		err = s.products.Save(ctx, updated)
		if err == nil {
			updated.Version++
			return updated, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= maxSaveRetries-1 {
			return domain.Product{}, err
		}
		s.logger.WithFields(log.Fields{
			"product_id": id,
			"attempt":    attempt + 1,
		}).Warn("version conflict detected, retrying")
	}
}

// Delete удаляет товар владельца.
func (s *Service) Delete(ctx context.Context, session *domain.Session, id string) error {
	if err := requireProducer(session); err != nil {
		return err
	}
	if _, err := s.owned(ctx, session, id); err != nil {
		return err
	}
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

// Get возвращает товар по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	return s.products.Get(ctx, id)
}

// UploadImage сохраняет изображение и возвращает ссылку для ImageRef.
func (s *Service) UploadImage(ctx context.Context, session *domain.Session, data []byte) (string, error) {
	if err := requireProducer(session); err != nil {
		return "", err
	}
	if s.blobs == nil {
		return "", fmt.Errorf("image upload is not configured")
	}
	if len(data) == 0 {
		return "", domain.NewValidationError("image", "is required")
	}
	if len(data) > MaxImageSize {
		return "", domain.NewValidationError("image", "is too large")
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, mt.String())
	}

	key := imagePrefix + uuid.NewString() + mt.Extension()
	ref, err := s.blobs.Put(ctx, key, data, mt.String())
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}

// WatchSellerProducts — живой список товаров продавца, новые первыми.
func (s *Service) WatchSellerProducts(ctx context.Context, session *domain.Session) (*domain.Subscription[[]domain.Product], error) {
	if err := requireProducer(session); err != nil {
		return nil, err
	}
	return s.watch(ctx, domain.ProductQuery{SellerID: session.UserID}, "seller_products")
}

// WatchAvailable — живой список товаров в наличии; пустая категория — все.
func (s *Service) WatchAvailable(ctx context.Context, category domain.Category) (*domain.Subscription[[]domain.Product], error) {
	if category != "" && !category.Valid() {
		return nil, domain.NewValidationError("category", "is not supported")
	}
	return s.watch(ctx, domain.ProductQuery{InStockOnly: true, Category: category}, "available_products")
}

// Search ищет товары в наличии по началу названия.
func (s *Service) Search(ctx context.Context, prefix string, limit int) ([]domain.Product, error) {
	key := domain.SearchKeyFor(prefix)
	if key == "" {
		return nil, domain.NewValidationError("query", "is required")
	}
	return s.products.List(ctx, domain.ProductQuery{InStockOnly: true, SearchPrefix: key, Limit: limit})
}

func (s *Service) watch(ctx context.Context, q domain.ProductQuery, kind string) (*domain.Subscription[[]domain.Product], error) {
	sub, err := s.products.Watch(ctx, q)
	if err != nil {
		return nil, err
	}
	s.metrics.SubscriptionOpened(kind)
	return domain.NewSubscription(sub.Updates(), func() {
		sub.Close()
		s.metrics.SubscriptionClosed(kind)
	}), nil
}

func (s *Service) owned(ctx context.Context, session *domain.Session, id string) (domain.Product, error) {
	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if product.SellerID != session.UserID {
		return domain.Product{}, domain.ErrPermissionDenied
	}
	return product, nil
}

func applyParsed(p *domain.Product, in parsedInput) {
	p.Name = in.name
	p.PriceMinor = in.priceMinor
	p.Description = in.description
	p.ImageRef = in.imageRef
	p.Stock = in.stock
	p.Category = in.category
	p.Unit = in.unit
	p.SearchKey = domain.SearchKeyFor(in.name)
}

func requireProducer(session *domain.Session) error {
	if !session.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !session.IsProducer() {
		return domain.ErrPermissionDenied
	}
	return nil
}
