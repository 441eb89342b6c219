package repo

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// ProductRepo is the narrow write path into catalog-owned stock.
type ProductRepo interface {
	IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error
	FindById(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, tx *sql.Tx, product *domain.Product) error
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) conn(tx *sql.Tx) querier {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *productRepo) IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	res, err := r.conn(tx).ExecContext(ctx,
		"UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1",
		productID, quantity,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepo) FindById(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		"SELECT id, title, price, stock, unit, weight_kg, updated_at FROM products WHERE id = $1", id,
	).Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &p.Unit, &p.WeightKg, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) CreateProduct(ctx context.Context, tx *sql.Tx, p *domain.Product) error {
	if p.Unit == "" {
		p.Unit = "pcs"
	}
	return r.conn(tx).QueryRowContext(ctx, `
		INSERT INTO products (title, price, stock, unit, weight_kg)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, updated_at`,
		p.Title, p.Price, p.Stock, p.Unit, p.WeightKg,
	).Scan(&p.ID, &p.UpdatedAt)
}
