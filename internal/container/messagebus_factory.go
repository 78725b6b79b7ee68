package container

import (
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/adapters/messagebus"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/internal/config"
)

// NewMessageBus создает адаптер брокера, выбранный в broker.type
func NewMessageBus(cfg config.BrokerConfig, logger *zap.Logger, m *metrics.Metrics) (messagebus.Bus, error) {
	adapterConfig, err := cfg.AdapterConfig()
	if err != nil {
		return nil, err
	}
	return messagebus.NewFactory(logger, m).Create(cfg.Type, adapterConfig)
}
