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
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SwaggerUIConfig конфигурация страницы документации API
type SwaggerUIConfig struct {
	// Path префикс маршрутов документации
	Path                   string
	Title                  string
	DeepLinking            bool
	DisplayRequestDuration bool
}

// DefaultSwaggerUIConfig возвращает конфигурацию Swagger UI по умолчанию
func DefaultSwaggerUIConfig() SwaggerUIConfig {
	return SwaggerUIConfig{
		Path:                   "/swagger",
		Title:                  "API",
		DeepLinking:            true,
		DisplayRequestDuration: true,
	}
}

// SwaggerUI отдает OpenAPI документ сервиса и страницу Swagger UI
type SwaggerUI struct {
	config   SwaggerUIConfig
	document []byte
	page     []byte
}

var swaggerPage = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      window.ui = SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        deepLinking: {{.DeepLinking}},
        displayRequestDuration: {{.DisplayRequestDuration}}
      });
    };
  </script>
</body>
</html>
`))

// NewSwaggerUI создает страницу документации для уже проверенного OpenAPI документа
func NewSwaggerUI(config SwaggerUIConfig, document []byte) (*SwaggerUI, error) {
	if len(document) == 0 {
		return nil, fmt.Errorf("OpenAPI document is empty")
	}
	if !strings.HasPrefix(config.Path, "/") {
		return nil, fmt.Errorf("swagger path must start with /")
	}
	config.Path = strings.TrimSuffix(config.Path, "/")

	var page strings.Builder
	err := swaggerPage.Execute(&page, map[string]interface{}{
		"Title":                  config.Title,
		"SpecURL":                config.Path + "/openapi.yaml",
		"DeepLinking":            config.DeepLinking,
		"DisplayRequestDuration": config.DisplayRequestDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render swagger page: %w", err)
	}

	return &SwaggerUI{config: config, document: document, page: []byte(page.String())}, nil
}

// RegisterRoutes регистрирует маршруты документации
func (s *SwaggerUI) RegisterRoutes(router gin.IRouter) {
	group := router.Group(s.config.Path)
	group.GET("/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", s.document)
	})
	group.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", s.page)
	})
}
