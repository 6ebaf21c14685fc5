// Package db provides the embedded migrations and seed data.
package db

import "embed"

// Migrations holds the golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// PromoCodesSeed is the default promo catalog loaded by seed-db.
//
//go:embed seed/promo_codes.json
var PromoCodesSeed []byte

// ProductsSeed is the sample product catalog loaded by seed-db.
//
//go:embed seed/products.json
var ProductsSeed []byte
