// Package api предоставляет HTTP API catalog-service.
package api

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/adapters/transport"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/cqrs"
	"github.com/akriventsev/stocksync/internal/catalog/application"
	"github.com/akriventsev/stocksync/internal/catalog/domain"
)

//go:embed openapi.yaml
var document []byte

// OpenAPIDocument возвращает OpenAPI документ сервиса
func OpenAPIDocument() []byte {
	return document
}

// CreateProductRequest тело запроса создания продукта
type CreateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// CreatedResponse идентификатор созданной сущности
type CreatedResponse struct {
	ID uuid.UUID `json:"id"`
}

// ProductResponse представление продукта
type ProductResponse struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	StockAmount int             `json:"stockAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func toResponse(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID(),
		Name:        p.Name(),
		Description: p.Description(),
		Price:       p.Price(),
		StockAmount: p.StockAmount(),
		CreatedAt:   p.CreatedAt(),
		UpdatedAt:   p.UpdatedAt(),
	}
}

// Handler HTTP обработчики продуктов
type Handler struct {
	dispatcher *cqrs.Dispatcher
	queries    *application.ProductQueries
	logger     *zap.Logger
}

// NewHandler создает обработчики
func NewHandler(dispatcher *cqrs.Dispatcher, queries *application.ProductQueries, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dispatcher: dispatcher,
		queries:    queries,
		logger:     logger.Named("api"),
	}
}

// Register регистрирует маршруты
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/products", h.createProduct)
	router.GET("/products", h.listProducts)
	router.GET("/products/:id", h.getProduct)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		transport.WriteStatus(c, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}

	id, err := cqrs.Dispatch[application.CreateProduct, uuid.UUID](c.Request.Context(), h.dispatcher, application.CreateProduct{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		transport.WriteError(c, h.logger, err)
		return
	}

	c.Header("Location", "/products/"+id.String())
	c.JSON(http.StatusCreated, CreatedResponse{ID: id})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.queries.ListProducts(c.Request.Context())
	if err != nil {
		transport.WriteError(c, h.logger, err)
		return
	}

	response := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		response = append(response, toResponse(p))
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		transport.WriteStatus(c, http.StatusBadRequest, "Product id must be a UUID")
		return
	}

	product, err := h.queries.GetProduct(c.Request.Context(), id)
	if core.IsCode(err, core.ErrNotFound) {
		transport.WriteStatus(c, http.StatusNotFound, core.MessageOf(err))
		return
	}
	if err != nil {
		transport.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(product))
}
