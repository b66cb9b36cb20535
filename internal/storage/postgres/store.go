// Package postgres implements order.Store on PostgreSQL. Row locks taken by
// GetOrder inside Atomic make the status check-and-set a single unit with
// respect to concurrent webhook deliveries.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
)

const externalReferenceConstraint = "orders_external_reference_key"

// DB is what both *pgxpool.Pool and pgx.Tx offer.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	db   DB
	inTx bool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx order.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, beginErr := s.pool.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("Panic recovered inside transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				log.Error().Err(commitErr).Msg("Failed to commit transaction")
				err = fmt.Errorf("postgres: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	return fn(ctx, &Store{pool: s.pool, db: tx, inTx: true})
}

func (s *Store) GetItem(ctx context.Context, id string) (*catalog.Item, error) {
	query := `
		SELECT id, title, price::text, stock
		FROM catalog_items
		WHERE id = $1
	`

	var (
		item  catalog.Item
		price string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(&item.ID, &item.Title, &price, &item.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrItemNotFound
		}
		return nil, fmt.Errorf("postgres: failed to select catalog item %s: %w", id, err)
	}

	item.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("postgres: bad price for catalog item %s: %w", id, err)
	}
	return &item, nil
}

// DecrementStock locks the item row and clamps the new stock at zero.
func (s *Store) DecrementStock(ctx context.Context, id string, amount int) (catalog.StockChange, error) {
	if amount < 0 {
		return catalog.StockChange{}, fmt.Errorf("postgres: negative decrement %d for item %s", amount, id)
	}

	query := `
		WITH locked AS (
			SELECT id, stock FROM catalog_items WHERE id = $1 FOR UPDATE
		)
		UPDATE catalog_items c
		SET stock = GREATEST(locked.stock - $2, 0), updated_at = now()
		FROM locked
		WHERE c.id = locked.id
		RETURNING locked.stock
	`

	var before int
	if err := s.db.QueryRow(ctx, query, id, amount).Scan(&before); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.StockChange{}, catalog.ErrItemNotFound
		}
		return catalog.StockChange{}, fmt.Errorf("postgres: failed to decrement stock for %s: %w", id, err)
	}

	return catalog.Decrement(id, before, amount), nil
}

// GetOrder loads an order with its line items. Inside Atomic the order row is
// locked until the transaction ends.
func (s *Store) GetOrder(ctx context.Context, ref string) (*order.Order, error) {
	query := `
		SELECT id, external_reference, status, total::text, contact_email, shipping_address::text,
		       customer_id, payment_provider_id, created_at, updated_at
		FROM orders
		WHERE external_reference = $1
	`
	if s.inTx {
		query += " FOR UPDATE"
	}

	var (
		o        order.Order
		total    string
		shipping string
	)
	err := s.db.QueryRow(ctx, query, ref).Scan(
		&o.ID,
		&o.ExternalReference,
		&o.Status,
		&total,
		&o.ContactEmail,
		&shipping,
		&o.CustomerID,
		&o.PaymentProviderID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("postgres: failed to select order %s: %w", ref, err)
	}

	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("postgres: bad total for order %s: %w", ref, err)
	}
	if shipping != "{}" {
		o.ShippingAddress = json.RawMessage(shipping)
	}

	o.LineItems, err = s.lineItems(ctx, &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) lineItems(ctx context.Context, o *order.Order) ([]order.LineItem, error) {
	query := `
		SELECT product_ref, title, quantity, unit_price::text
		FROM order_line_items
		WHERE order_id = $1
		ORDER BY position
	`

	rows, err := s.db.Query(ctx, query, o.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query line items for order %s: %w", o.ExternalReference, err)
	}
	defer rows.Close()

	items := make([]order.LineItem, 0)
	for rows.Next() {
		var (
			li    order.LineItem
			price string
		)
		if err := rows.Scan(&li.ProductRef, &li.Title, &li.Quantity, &price); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan line item for order %s: %w", o.ExternalReference, err)
		}
		if li.UnitPriceSnapshot, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: bad unit price for order %s: %w", o.ExternalReference, err)
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating line items for order %s: %w", o.ExternalReference, err)
	}
	return items, nil
}

// SaveOrder inserts o with its line items, or for an existing order updates
// only status, payment provider id and updated_at.
func (s *Store) SaveOrder(ctx context.Context, o *order.Order) error {
	if !s.inTx {
		return s.Atomic(ctx, func(ctx context.Context, tx order.Store) error {
			return tx.SaveOrder(ctx, o)
		})
	}

	shipping := "{}"
	if len(o.ShippingAddress) > 0 {
		shipping = string(o.ShippingAddress)
	}

	query := `
		INSERT INTO orders (id, external_reference, status, total, contact_email, shipping_address,
		                    customer_id, payment_provider_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::jsonb, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    payment_provider_id = COALESCE(EXCLUDED.payment_provider_id, orders.payment_provider_id),
		    updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.db.QueryRow(ctx, query,
		o.ID,
		o.ExternalReference,
		string(o.Status),
		o.Total.String(),
		o.ContactEmail,
		shipping,
		o.CustomerID,
		o.PaymentProviderID,
		o.CreatedAt,
		o.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == externalReferenceConstraint {
			return order.ErrDuplicateReference
		}
		return fmt.Errorf("postgres: failed to save order %s: %w", o.ExternalReference, err)
	}

	if !inserted {
		return nil
	}

	itemQuery := `
		INSERT INTO order_line_items (order_id, position, product_ref, title, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6::numeric)
	`
	for i, li := range o.LineItems {
		if _, err := s.db.Exec(ctx, itemQuery, o.ID, i, li.ProductRef, li.Title, li.Quantity, li.UnitPriceSnapshot.String()); err != nil {
			return fmt.Errorf("postgres: failed to insert line item %d for order %s: %w", i, o.ExternalReference, err)
		}
	}
	return nil
}

// PutItem upserts a catalog item. Catalog maintenance belongs to another
// system; this is for seeding local databases and tests.
func (s *Store) PutItem(ctx context.Context, item catalog.Item) error {
	query := `
		INSERT INTO catalog_items (id, title, price, stock)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, item.ID, item.Title, item.Price.String(), item.Stock); err != nil {
		return fmt.Errorf("postgres: failed to upsert catalog item %s: %w", item.ID, err)
	}
	return nil
}
