package commands

import (
	"context"
	"log/slog"

	domainerrors "corework/contexts/commerce/catalog-service/domain/errors"
	"corework/contexts/commerce/catalog-service/domain/events"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/uow"
	"corework/internal/platform/logging"
)

type RestockInventoryCommand struct {
	ProductID string
	Quantity  int
}

type RestockInventoryUseCase struct {
	IDGenerator ids.Provider
	UnitOfWork  uow.UnitOfWork
	Logger      *slog.Logger
}

func (uc RestockInventoryUseCase) Execute(ctx context.Context, cmd RestockInventoryCommand) error {
	logger := logging.ResolveLogger(uc.Logger)

	if cmd.Quantity < 0 {
		return domainerrors.ErrNegativeStock
	}

	eventID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return err
	}
	env := envelope.New(eventID, events.TypeInventoryRestocked, events.InventoryRestockedEvent{
		ProductID: cmd.ProductID,
		Quantity:  cmd.Quantity,
	})

	unitID, err := uc.UnitOfWork.Queue(ctx, ids.Nil, env)
	if err != nil {
		return err
	}
	if err := uc.UnitOfWork.Flush(ctx, unitID); err != nil {
		return err
	}

	logger.Info("inventory restocked",
		"event", "inventory_restocked",
		"module", "commerce/catalog-service",
		"layer", "application",
		"product_id", cmd.ProductID,
		"quantity", cmd.Quantity,
	)
	return nil
}
