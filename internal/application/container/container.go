package container

import (
	"tokenbar/internal/application/port"
	"tokenbar/internal/application/service"
)

// Container 应用层服务，依赖只有 repository
type Container struct {
	repo port.PriceRepository

	priceService *service.PriceService
}

func New(repo port.PriceRepository) *Container {
	return &Container{
		repo: repo,
	}
}

func (c *Container) Repository() port.PriceRepository {
	return c.repo
}

func (c *Container) PriceService() *service.PriceService {
	if c.priceService == nil {
		c.priceService = service.NewPriceService(c.repo)
	}
	return c.priceService
}

func (c *Container) Close() error {
	return c.repo.Close()
}
