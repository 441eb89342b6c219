package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"order-fulfillment/internal/repo"
)

type StockReconciler interface {
	// RestoreStock returns every item quantity of the order to product stock inside tx.
	// It must only run on the transition into cancelled, which happens once per order.
	RestoreStock(ctx context.Context, tx *sql.Tx, orderID int64) (int, error)
}

type stockReconciler struct {
	orderRepo   repo.OrderRepo
	productRepo repo.ProductRepo
	log         *zap.Logger
}

func NewStockReconciler(orderRepo repo.OrderRepo, productRepo repo.ProductRepo, log *zap.Logger) StockReconciler {
	return &stockReconciler{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		log:         log.Named("stock"),
	}
}

func (s *stockReconciler) RestoreStock(ctx context.Context, tx *sql.Tx, orderID int64) (int, error) {
	items, err := s.orderRepo.FindItems(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("load items of order %d: %w", orderID, err)
	}

	restored := 0
	for _, item := range items {
		err := s.productRepo.IncrementStock(ctx, tx, item.ProductID, item.Quantity)
		if errors.Is(err, repo.ErrProductNotFound) {
			// product removed from the catalog since the order was placed
			s.log.Warn("product missing, stock not restored",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("restore stock of product %d: %w", item.ProductID, err)
		}
		restored += item.Quantity
	}

	s.log.Info("stock restored", zap.Int64("order_id", orderID), zap.Int("units", restored))
	return restored, nil
}
