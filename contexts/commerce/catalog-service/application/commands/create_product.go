package commands

import (
	"context"
	"log/slog"
	"strings"

	"corework/contexts/commerce/catalog-service/domain/entities"
	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/contexts/commerce/catalog-service/ports"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/uow"
	"corework/internal/platform/logging"
)

type CreateProductCommand struct {
	Name         string
	Description  string
	Price        float64
	ImageURL     string
	InitialStock int
}

type CreateProductUseCase struct {
	Products    ports.ProductRepository
	Clock       ports.Clock
	IDGenerator ids.Provider
	UnitOfWork  uow.UnitOfWork
	Logger      *slog.Logger
}

func (uc CreateProductUseCase) Execute(ctx context.Context, cmd CreateProductCommand) (entities.Product, error) {
	logger := logging.ResolveLogger(uc.Logger)

	if cmd.InitialStock < 0 {
		return entities.Product{}, domainerrors.ErrNegativeStock
	}

	productID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return entities.Product{}, err
	}

	product := entities.Product{
		ProductID:   productID.String(),
		Name:        strings.TrimSpace(cmd.Name),
		Description: strings.TrimSpace(cmd.Description),
		Price:       cmd.Price,
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		CreatedAt:   uc.Clock.Now().UTC(),
	}
	product.UpdatedAt = product.CreatedAt
	if !product.ValidateBasics() {
		return entities.Product{}, domainerrors.ErrInvalidProductInput
	}

	if err := uc.Products.CreateProduct(ctx, product); err != nil {
		return entities.Product{}, err
	}

	createdID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return entities.Product{}, err
	}
	createdEnv := envelope.New(createdID, events.TypeProductCreated, events.ProductCreatedEvent{
		ProductID:   product.ProductID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		ImageURL:    product.ImageURL,
	})

	restockedID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return entities.Product{}, err
	}
	restockedEnv := envelope.New(restockedID, events.TypeInventoryRestocked, events.InventoryRestockedEvent{
		ProductID: product.ProductID,
		Quantity:  cmd.InitialStock,
	})

	unitID, err := uc.UnitOfWork.Queue(ctx, ids.Nil, createdEnv)
	if err != nil {
		return entities.Product{}, err
	}
	if _, err := uc.UnitOfWork.Queue(ctx, unitID, restockedEnv); err != nil {
		return entities.Product{}, err
	}
	if err := uc.UnitOfWork.Flush(ctx, unitID); err != nil {
		return entities.Product{}, err
	}

	logger.Info("product created",
		"event", "product_created",
		"module", "commerce/catalog-service",
		"layer", "application",
		"product_id", product.ProductID,
	)
	return product, nil
}
