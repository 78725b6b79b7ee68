package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/adapters/transport"
	"github.com/akriventsev/stocksync/framework/cqrs"
	"github.com/akriventsev/stocksync/internal/contracts"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/infrastructure/memory"
)

type fixture struct {
	router     *gin.Engine
	store      *memory.Store
	readModels *memory.ReadModelStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	readModels := memory.NewReadModelStore()

	dispatcher := cqrs.NewDispatcher(nil)
	cqrs.MustRegister[application.AddInventory, uuid.UUID](dispatcher, application.NewAddInventoryHandler(store, readModels, nil, nil))

	validator, err := transport.NewOpenAPIValidator(OpenAPIDocument(), nil, nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(transport.RequestIDMiddleware(), validator.Middleware())
	NewHandler(dispatcher, application.NewStockQueries(store, readModels), nil).Register(router)

	return fixture{router: router, store: store, readModels: readModels}
}

func (f fixture) syncProduct(t *testing.T, name string) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	consumer := application.NewProductCreatedConsumer(f.readModels, nil, nil)
	require.NoError(t, consumer.Handle(context.Background(), contracts.NewProductCreated(productID, name)))
	return productID
}

func (f fixture) post(body, userID string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inventory", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAddInventory_OK(t *testing.T) {
	f := newFixture(t)
	productID := f.syncProduct(t, "Keyboard")

	rec := f.post(fmt.Sprintf(`{"productId":%q,"quantity":10}`, productID), "user-42")
	require.Equal(t, http.StatusOK, rec.Code)

	var created CreatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Len(t, f.store.Outbox().Records(), 1)

	rec = f.get("/inventory/" + productID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var inventories []InventoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inventories))
	require.Len(t, inventories, 1)
	assert.Equal(t, created.ID, inventories[0].ID)
	assert.Equal(t, "user-42", inventories[0].AddedBy)
	assert.Equal(t, 10, inventories[0].Quantity)
}

func TestAddInventory_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	productID := uuid.New()

	rec := f.post(fmt.Sprintf(`{"productId":%q,"quantity":10}`, productID), "user-42")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body transport.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "product "+productID.String()+" not found", body.Error)
	assert.NotEmpty(t, body.TraceID)
	assert.Empty(t, f.store.Outbox().Records())
}

func TestAddInventory_InvalidQuantity(t *testing.T) {
	f := newFixture(t)
	productID := f.syncProduct(t, "Keyboard")

	rec := f.post(fmt.Sprintf(`{"productId":%q,"quantity":0}`, productID), "user-42")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body transport.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Quantity must be greater than 0", body.Error)
}

func TestAddInventory_RequiresUser(t *testing.T) {
	f := newFixture(t)
	productID := f.syncProduct(t, "Keyboard")

	rec := f.post(fmt.Sprintf(`{"productId":%q,"quantity":1}`, productID), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.store.Outbox().Records())
}

func TestGetReadModel(t *testing.T) {
	f := newFixture(t)
	productID := f.syncProduct(t, "Keyboard")

	rec := f.get("/read-models/" + productID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var model ReadModelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &model))
	assert.Equal(t, productID, model.ProductID)
	assert.Equal(t, "Keyboard", model.Name)

	rec = f.get("/read-models/" + uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
