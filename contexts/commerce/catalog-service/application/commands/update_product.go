package commands

import (
	"context"
	"log/slog"
	"strings"

	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/contexts/commerce/catalog-service/ports"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/uow"
	"corework/internal/platform/logging"
)

// UpdateProductCommand's pointer fields are nil when the caller did not
// request a change to that field (S2: updating name alone must leave
// description/price/imageUrl untouched).
type UpdateProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Price       *float64
	ImageURL    *string
}

type UpdateProductUseCase struct {
	Products    ports.ProductRepository
	Clock       ports.Clock
	IDGenerator ids.Provider
	UnitOfWork  uow.UnitOfWork
	Logger      *slog.Logger
}

func (uc UpdateProductUseCase) Execute(ctx context.Context, cmd UpdateProductCommand) error {
	logger := logging.ResolveLogger(uc.Logger)

	product, err := uc.Products.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		return err
	}

	if cmd.Name != nil {
		product.Name = strings.TrimSpace(*cmd.Name)
	}
	if cmd.Description != nil {
		product.Description = strings.TrimSpace(*cmd.Description)
	}
	if cmd.Price != nil {
		product.Price = *cmd.Price
	}
	if cmd.ImageURL != nil {
		product.ImageURL = strings.TrimSpace(*cmd.ImageURL)
	}
	product.UpdatedAt = uc.Clock.Now().UTC()
	if !product.ValidateBasics() {
		return domainerrors.ErrInvalidProductInput
	}

	if err := uc.Products.UpdateProduct(ctx, product); err != nil {
		return err
	}

	eventID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return err
	}
	env := envelope.New(eventID, events.TypeProductUpdated, events.ProductUpdatedEvent{
		ProductID:   product.ProductID,
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		ImageURL:    cmd.ImageURL,
	})

	unitID, err := uc.UnitOfWork.Queue(ctx, ids.Nil, env)
	if err != nil {
		return err
	}
	if err := uc.UnitOfWork.Flush(ctx, unitID); err != nil {
		return err
	}

	logger.Info("product updated",
		"event", "product_updated",
		"module", "commerce/catalog-service",
		"layer", "application",
		"product_id", product.ProductID,
	)
	return nil
}
