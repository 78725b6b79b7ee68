// Package api предоставляет HTTP API stock-service.
package api

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/adapters/transport"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/cqrs"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

// UserIDHeader заголовок с идентификатором пользователя, добавляющего поступление
const UserIDHeader = "X-User-ID"

//go:embed openapi.yaml
var document []byte

// OpenAPIDocument возвращает OpenAPI документ сервиса
func OpenAPIDocument() []byte {
	return document
}

// AddInventoryRequest тело запроса добавления поступления
type AddInventoryRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// CreatedResponse идентификатор созданной сущности
type CreatedResponse struct {
	ID uuid.UUID `json:"id"`
}

// InventoryResponse представление поступления
type InventoryResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
	AddedBy   string    `json:"addedBy"`
}

// ReadModelResponse представление продукта из read model
type ReadModelResponse struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// Handler HTTP обработчики stock-service
type Handler struct {
	dispatcher *cqrs.Dispatcher
	queries    *application.StockQueries
	logger     *zap.Logger
}

// NewHandler создает обработчики
func NewHandler(dispatcher *cqrs.Dispatcher, queries *application.StockQueries, logger *zap.Logger) *Handler {
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
	router.POST("/inventory", h.addInventory)
	router.GET("/inventory/:productId", h.listInventory)
	router.GET("/read-models/:productId", h.getReadModel)
}

func (h *Handler) addInventory(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
	if userID == "" {
		transport.WriteStatus(c, http.StatusUnauthorized, "User identifier not found")
		return
	}

	var req AddInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		transport.WriteStatus(c, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}

	h.logger.Info("adding inventory",
		zap.String("product_id", req.ProductID.String()),
		zap.Int("quantity", req.Quantity),
	)

	id, err := cqrs.Dispatch[application.AddInventory, uuid.UUID](c.Request.Context(), h.dispatcher, application.AddInventory{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		AddedBy:   userID,
	})
	if err != nil {
		transport.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, CreatedResponse{ID: id})
}

func (h *Handler) listInventory(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	inventories, err := h.queries.ListInventory(c.Request.Context(), productID)
	if err != nil {
		transport.WriteError(c, h.logger, err)
		return
	}

	response := make([]InventoryResponse, 0, len(inventories))
	for _, inv := range inventories {
		response = append(response, toInventoryResponse(inv))
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) getReadModel(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	model, err := h.queries.GetReadModel(c.Request.Context(), productID)
	if core.IsCode(err, core.ErrNotFound) {
		transport.WriteStatus(c, http.StatusNotFound, core.MessageOf(err))
		return
	}
	if err != nil {
		transport.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ReadModelResponse{
		ProductID: model.ProductID(),
		Name:      model.Name(),
		SyncedAt:  model.SyncedAt(),
	})
}

func productIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		transport.WriteStatus(c, http.StatusBadRequest, "Product id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toInventoryResponse(inv *domain.Inventory) InventoryResponse {
	return InventoryResponse{
		ID:        inv.ID(),
		ProductID: inv.ProductID(),
		Quantity:  inv.Quantity(),
		AddedAt:   inv.AddedAt(),
		AddedBy:   inv.AddedBy(),
	}
}
