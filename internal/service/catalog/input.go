package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

const localFileScheme = "file://"

// ProductInput — данные формы товара в том виде, в каком их вводит продавец.
// Цена и остаток приходят строками и разбираются здесь.
type ProductInput struct {
	Name        string `json:"name" validate:"required,max=120"`
	Price       string `json:"price" validate:"required"`
	Description string `json:"description" validate:"required,max=2000"`
	ImageRef    string `json:"image_ref" validate:"required"`
	Stock       string `json:"stock" validate:"required"`
	Category    string `json:"category" validate:"required,market_category"`
	Unit        string `json:"unit" validate:"required,market_unit"`
}

// ProductPatch — частичное изменение товара; nil-поля не меняются.
type ProductPatch struct {
	Name        *string `json:"name,omitempty"`
	Price       *string `json:"price,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageRef    *string `json:"image_ref,omitempty"`
	Stock       *string `json:"stock,omitempty"`
	Category    *string `json:"category,omitempty"`
	Unit        *string `json:"unit,omitempty"`
}

// parsedInput — проверенные и разобранные поля товара.
type parsedInput struct {
	name        string
	priceMinor  int64
	description string
	imageRef    string
	stock       int32
	category    domain.Category
	unit        domain.Unit
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("market_category", func(fl validator.FieldLevel) bool {
		return domain.Category(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("market_unit", func(fl validator.FieldLevel) bool {
		return domain.Unit(fl.Field().String()).Valid()
	})
	return v
}

// parse проверяет форму и разбирает числовые поля.
func parse(v *validator.Validate, in ProductInput) (parsedInput, error) {
	in = trimInput(in)

	if err := v.Struct(in); err != nil {
		return parsedInput{}, toValidationError(err)
	}
	if strings.HasPrefix(in.ImageRef, localFileScheme) {
		return parsedInput{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrImageNotUploaded)
	}

	priceMinor, err := parsePrice(in.Price)
	if err != nil {
		return parsedInput{}, err
	}
	stock, err := parseStock(in.Stock)
	if err != nil {
		return parsedInput{}, err
	}

	return parsedInput{
		name:        in.Name,
		priceMinor:  priceMinor,
		description: in.Description,
		imageRef:    in.ImageRef,
		stock:       stock,
		category:    domain.Category(in.Category),
		unit:        domain.Unit(in.Unit),
	}, nil
}

// parsePrice разбирает цену («12.50» или «12,50») в минимальные единицы.
func parsePrice(raw string) (int64, error) {
	price, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return 0, domain.NewValidationError("price", "must be numeric")
	}
	if !price.IsPositive() {
		return 0, domain.NewValidationError("price", "must be greater than zero")
	}
	if !price.Equal(price.Round(2)) {
		return 0, domain.NewValidationError("price", "must have at most two decimal places")
	}
	minor := price.Shift(2)
	if minor.GreaterThan(decimal.NewFromInt(domain.MaxPriceMinor)) {
		return 0, domain.NewValidationError("price", "is too large")
	}
	return minor.IntPart(), nil
}

func parseStock(raw string) (int32, error) {
	stock, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, domain.NewValidationError("stock", "must be an integer")
	}
	if stock < 0 {
		return 0, domain.NewValidationError("stock", "must be non-negative")
	}
	return int32(stock), nil
}

// FormatPrice возвращает цену в виде «12.50».
func FormatPrice(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// inputFromProduct восстанавливает форму из сохранённого товара.
func inputFromProduct(p domain.Product) ProductInput {
	return ProductInput{
		Name:        p.Name,
		Price:       FormatPrice(p.PriceMinor),
		Description: p.Description,
		ImageRef:    p.ImageRef,
		Stock:       strconv.FormatInt(int64(p.Stock), 10),
		Category:    string(p.Category),
		Unit:        string(p.Unit),
	}
}

// apply накладывает patch на форму.
func (p ProductPatch) apply(in ProductInput) ProductInput {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&in.Name, p.Name)
	set(&in.Price, p.Price)
	set(&in.Description, p.Description)
	set(&in.ImageRef, p.ImageRef)
	set(&in.Stock, p.Stock)
	set(&in.Category, p.Category)
	set(&in.Unit, p.Unit)
	return in
}

func trimInput(in ProductInput) ProductInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Price = strings.TrimSpace(in.Price)
	in.Description = strings.TrimSpace(in.Description)
	in.ImageRef = strings.TrimSpace(in.ImageRef)
	in.Stock = strings.TrimSpace(in.Stock)
	in.Category = strings.TrimSpace(in.Category)
	in.Unit = strings.TrimSpace(in.Unit)
	return in
}

// toValidationError превращает первую ошибку validator в domain.ValidationError.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	first := verrs[0]
	reason := "is invalid"
	switch first.Tag() {
	case "required":
		reason = "is required"
	case "max":
		reason = "is too long"
	case "market_category", "market_unit":
		reason = "is not supported"
	}
	return domain.NewValidationError(first.Field(), reason)
}
