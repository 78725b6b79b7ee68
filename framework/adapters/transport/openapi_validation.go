// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ValidationOptions опции для валидации OpenAPI
type ValidationOptions struct {
	ValidateRequest  bool
	ValidateResponse bool
	MultiError       bool
	// SkipUnknownRoutes пропускает запросы к путям, отсутствующим в документе (health, metrics)
	SkipUnknownRoutes bool
}

// DefaultValidationOptions возвращает опции валидации по умолчанию
func DefaultValidationOptions() *ValidationOptions {
	return &ValidationOptions{
		ValidateRequest:   true,
		ValidateResponse:  false,
		MultiError:        true,
		SkipUnknownRoutes: true,
	}
}

// OpenAPIValidator валидатор HTTP запросов по OpenAPI спецификации
type OpenAPIValidator struct {
	spec    *openapi3.T
	router  routers.Router
	options *ValidationOptions
	logger  *zap.Logger
}

// NewOpenAPIValidator создает валидатор из OpenAPI документа (YAML или JSON)
func NewOpenAPIValidator(document []byte, options *ValidationOptions, logger *zap.Logger) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	spec, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}

	if err := spec.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	if options == nil {
		options = DefaultValidationOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAPIValidator{
		spec:    spec,
		router:  router,
		options: options,
		logger:  logger.Named("openapi"),
	}, nil
}

// responseWriter обертка для gin.ResponseWriter для перехвата ответа
type responseWriter struct {
	gin.ResponseWriter
	body       []byte
	statusCode int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body = append(rw.body, b...)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Middleware возвращает Gin middleware для валидации запросов
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, pathParams, err := v.router.FindRoute(c.Request)
		if err != nil {
			if v.options.SkipUnknownRoutes && isRouteMiss(err) {
				c.Next()
				return
			}
			v.handleValidationError(c, err)
			return
		}

		if v.options.ValidateRequest {
			if err := v.validateRequest(c, route, pathParams); err != nil {
				v.handleValidationError(c, err)
				return
			}
		}

		if !v.options.ValidateResponse {
			c.Next()
			return
		}

		rw := &responseWriter{
			ResponseWriter: c.Writer,
			body:           make([]byte, 0),
			statusCode:     http.StatusOK,
		}
		c.Writer = rw

		c.Next()

		// ответ уже отправлен, расхождение только логируется
		if err := v.validateResponse(c, route, pathParams, rw.statusCode, rw.body); err != nil {
			v.logger.Warn("response does not match OpenAPI spec",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Error(err),
			)
		}
	}
}

func isRouteMiss(err error) bool {
	var routeErr *routers.RouteError
	if !errors.As(err, &routeErr) {
		return false
	}
	return routeErr.Reason == routers.ErrPathNotFound.Error() || routeErr.Reason == routers.ErrMethodNotAllowed.Error()
}

// validateRequest валидирует HTTP запрос по OpenAPI спецификации
func (v *OpenAPIValidator) validateRequest(c *gin.Context, route *routers.Route, pathParams map[string]string) error {
	input := &openapi3filter.RequestValidationInput{
		Request:     c.Request,
		PathParams:  pathParams,
		Route:       route,
		QueryParams: c.Request.URL.Query(),
		Options:     &openapi3filter.Options{MultiError: v.options.MultiError},
	}
	return openapi3filter.ValidateRequest(c.Request.Context(), input)
}

// validateResponse валидирует HTTP ответ по OpenAPI спецификации
func (v *OpenAPIValidator) validateResponse(c *gin.Context, route *routers.Route, pathParams map[string]string, statusCode int, body []byte) error {
	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:     c.Request,
			PathParams:  pathParams,
			Route:       route,
			QueryParams: c.Request.URL.Query(),
		},
		Status:  statusCode,
		Header:  c.Writer.Header(),
		Body:    io.NopCloser(strings.NewReader(string(body))),
		Options: &openapi3filter.Options{},
	}
	return openapi3filter.ValidateResponse(c.Request.Context(), input)
}

// ValidationResponse тело ответа при ошибке валидации
type ValidationResponse struct {
	ErrorResponse
	Details []ValidationError `json:"details,omitempty"`
}

// handleValidationError отвечает 400 с описанием нарушений
func (v *OpenAPIValidator) handleValidationError(c *gin.Context, err error) {
	details := v.formatValidationError(err)

	message := "request validation failed"
	if len(details) > 0 {
		message = details[0].Message
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, ValidationResponse{
		ErrorResponse: ErrorResponse{Error: message, TraceID: TraceID(c)},
		Details:       details,
	})
}

// formatValidationError раскладывает ошибку kin-openapi на отдельные нарушения
func (v *OpenAPIValidator) formatValidationError(err error) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		result := make([]ValidationError, 0, len(multi))
		for _, e := range multi {
			result = append(result, toValidationError(e))
		}
		if !v.options.MultiError && len(result) > 1 {
			return result[:1]
		}
		return result
	}
	return []ValidationError{toValidationError(err)}
}

func toValidationError(err error) ValidationError {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		field := ""
		if reqErr.Parameter != nil {
			field = reqErr.Parameter.Name
		}
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			if pointer := schemaErr.JSONPointer(); len(pointer) > 0 {
				field = strings.Join(pointer, ".")
			}
			return ValidationError{Field: field, Message: schemaErr.Reason}
		}
		return ValidationError{Field: field, Message: reqErr.Error()}
	}
	return ValidationError{Message: err.Error()}
}

// ValidationError структура ошибки валидации
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// GetSpec возвращает загруженную OpenAPI спецификацию
func (v *OpenAPIValidator) GetSpec() *openapi3.T {
	return v.spec
}
