package observability

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck проверка отдельной зависимости
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult результат одной проверки
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheckResult сводный результат
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthRegistry набор проверок здоровья сервиса
type HealthRegistry struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthRegistry создает реестр проверок
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthRegistry{timeout: timeout}
}

// Register добавляет проверку
func (r *HealthRegistry) Register(check HealthCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check)
}

// Run выполняет все проверки
func (r *HealthRegistry) Run(ctx context.Context) HealthCheckResult {
	r.mu.RLock()
	checks := make([]HealthCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name() < checks[j].Name() })

	result := HealthCheckResult{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := check.Check(checkCtx)
		cancel()

		if err != nil {
			result.Status = "unhealthy"
			result.Checks[check.Name()] = CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		result.Checks[check.Name()] = CheckResult{Status: "healthy"}
	}

	return result
}

// Handler возвращает Gin handler для health check
func (r *HealthRegistry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := r.Run(c.Request.Context())
		status := http.StatusOK
		if result.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	}
}

// FuncHealthCheck проверка на основе функции
type FuncHealthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncHealthCheck создает проверку из функции
func NewFuncHealthCheck(name string, check func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, check: check}
}

// Name возвращает имя проверки
func (h *FuncHealthCheck) Name() string {
	return h.name
}

// Check выполняет проверку
func (h *FuncHealthCheck) Check(ctx context.Context) error {
	return h.check(ctx)
}
