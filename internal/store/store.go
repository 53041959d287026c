package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var schema = `
CREATE TABLE IF NOT EXISTS membership_tiers(
	id					SERIAL PRIMARY KEY,
	name				TEXT NOT NULL UNIQUE,
	percent				NUMERIC(5,2) NOT NULL,
	price				NUMERIC(15,2) NOT NULL DEFAULT 0.00
);

CREATE TABLE IF NOT EXISTS users(
	id					SERIAL PRIMARY KEY,
	name				TEXT NOT NULL,
	income				NUMERIC(15,2) NOT NULL DEFAULT 0.00,
	point				NUMERIC(15,2) NOT NULL DEFAULT 0.00,
	membership_tier_id	INTEGER REFERENCES membership_tiers(id),
	created_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products(
	id					SERIAL PRIMARY KEY,
	author_id			INTEGER NOT NULL REFERENCES users(id),
	title				TEXT NOT NULL,
	price				NUMERIC(15,2) NOT NULL,
	file_url			TEXT NOT NULL,
	income				NUMERIC(15,2) NOT NULL DEFAULT 0.00,
	is_unique			BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS orders(
	id					SERIAL PRIMARY KEY,
	buyer_id			INTEGER REFERENCES users(id),
	product_id			INTEGER REFERENCES products(id),
	tier_id				INTEGER REFERENCES membership_tiers(id),
	kind				VARCHAR(16) NOT NULL,
	amount				NUMERIC(15,2) NOT NULL,
	payment_method		VARCHAR(16) NOT NULL,
	status				VARCHAR(16) NOT NULL,
	invoice_id			TEXT UNIQUE,
	created_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS download_tokens(
	id					SERIAL PRIMARY KEY,
	order_id			INTEGER NOT NULL REFERENCES orders(id),
	product_id			INTEGER NOT NULL REFERENCES products(id),
	buyer_id			INTEGER REFERENCES users(id),
	token				TEXT NOT NULL UNIQUE,
	expires_at			TIMESTAMP WITH TIME ZONE NOT NULL,
	is_used				BOOLEAN NOT NULL DEFAULT FALSE,
	used_at				TIMESTAMP WITH TIME ZONE,
	created_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS withdrawal_requests(
	id					SERIAL PRIMARY KEY,
	author_id			INTEGER NOT NULL REFERENCES users(id),
	amount				NUMERIC(15,2) NOT NULL,
	status				VARCHAR(16) NOT NULL,
	created_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`

type Store struct {
	db *sqlx.DB
}

// NewStore connects to the database and bootstraps the schema.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// UserByID retrieves a user by ID
func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ProductByID retrieves a product by ID
func (s *Store) ProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// TierByID retrieves a membership tier by ID
func (s *Store) TierByID(ctx context.Context, id int64) (*models.MembershipTier, error) {
	var tier models.MembershipTier
	err := s.db.GetContext(ctx, &tier, "SELECT * FROM membership_tiers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("membership tier %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// TierForUser resolves the membership tier of a user, nil when unset.
func (s *Store) TierForUser(ctx context.Context, userID int64) (*models.MembershipTier, error) {
	var tier models.MembershipTier
	err := s.db.GetContext(ctx, &tier, `
		SELECT t.* FROM membership_tiers t
		JOIN users u ON u.membership_tier_id = t.id
		WHERE u.id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tier, nil
}
