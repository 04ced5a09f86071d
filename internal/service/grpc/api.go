package grpcsvc

import "time"

type Empty struct{}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            string `json:"role"`
}

type RegisterResponse struct {
	User User `json:"user"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInResponse несёт токен, который клиент передаёт в metadata authorization.
type SignInResponse struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Product товар каталога. Цена отдаётся и в минорных единицах, и строкой для показа.
type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Name        string    `json:"name"`
	PriceMinor  int64     `json:"price_minor"`
	Price       string    `json:"price"`
	Description string    `json:"description"`
	ImageRef    string    `json:"image_ref"`
	Stock       int32     `json:"stock"`
	Category    string    `json:"category"`
	Unit        string    `json:"unit"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// PublishProductRequest форма товара; цена и остаток приходят строками.
type PublishProductRequest struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
	ImageRef    string `json:"image_ref"`
	Stock       string `json:"stock"`
	Category    string `json:"category"`
	Unit        string `json:"unit"`
}

// UpdateProductRequest частичное изменение: отсутствующие поля не меняются.
type UpdateProductRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Price       *string `json:"price,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageRef    *string `json:"image_ref,omitempty"`
	Stock       *string `json:"stock,omitempty"`
	Category    *string `json:"category,omitempty"`
	Unit        *string `json:"unit,omitempty"`
}

type ProductRequest struct {
	ID string `json:"id"`
}

type ProductResponse struct {
	Product Product `json:"product"`
}

type UploadImageRequest struct {
	Data []byte `json:"data"`
}

type UploadImageResponse struct {
	ImageRef string `json:"image_ref"`
}

type SearchProductsRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
}

type ProductList struct {
	Products []Product `json:"products"`
}

// Области видимости WatchProducts.
const (
	ProductScopeMine      = "mine"
	ProductScopeAvailable = "available"
)

// WatchProductsRequest выбирает живой список: свои товары продавца или
// товары в наличии для покупателя, опционально по категории.
type WatchProductsRequest struct {
	Scope    string `json:"scope"`
	Category string `json:"category,omitempty"`
}

// CartLine позиция корзины клиента. Цена и продавец берутся из каталога.
type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type CheckoutRequest struct {
	Items []CartLine `json:"items"`
}

type CheckoutResponse struct {
	CheckoutID string  `json:"checkout_id"`
	Orders     []Order `json:"orders"`
	TotalMinor int64   `json:"total_minor"`
}

type OrderItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	Qty           int32  `json:"qty"`
	PriceMinor    int64  `json:"price_minor"`
	SubtotalMinor int64  `json:"subtotal_minor"`
	ImageRef      string `json:"image_ref,omitempty"`
}

// OrderAction следующее действие продавца над заказом.
type OrderAction struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// Order заказ продавца вместе с представлением статуса для роли вызывающего.
type Order struct {
	ID          string       `json:"id"`
	CheckoutID  string       `json:"checkout_id,omitempty"`
	SellerID    string       `json:"seller_id"`
	BuyerID     string       `json:"buyer_id"`
	BuyerName   string       `json:"buyer_name"`
	Items       []OrderItem  `json:"items"`
	TotalMinor  int64        `json:"total_minor"`
	Total       string       `json:"total"`
	Status      string       `json:"status"`
	StatusLabel string       `json:"status_label"`
	StatusColor string       `json:"status_color"`
	NextAction  *OrderAction `json:"next_action,omitempty"`
	Version     int64        `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

// AdvanceOrderRequest перевод заказа в целевой статус; пустой Target
// означает следующий статус по жизненному циклу.
type AdvanceOrderRequest struct {
	OrderID string `json:"order_id"`
	Target  string `json:"target,omitempty"`
}

type TimelineEvent struct {
	Type     string    `json:"type"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to"`
	ToLabel  string    `json:"to_label"`
	ActorID  string    `json:"actor_id,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type OrderTimelineResponse struct {
	Events []TimelineEvent `json:"events"`
}

// Роли в WatchOrders.
const (
	OrderRoleSeller = "seller"
	OrderRoleBuyer  = "buyer"
)

type WatchOrdersRequest struct {
	Role string `json:"role"`
}

type OrderList struct {
	Orders []Order `json:"orders"`
}

type PendingCount struct {
	Count int `json:"count"`
}
