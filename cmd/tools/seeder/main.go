package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("Failed to begin: %v", err)
	}
	for _, step := range []struct {
		name string
		fn   func(*sql.Tx) error
	}{
		{"countries", seedCountries},
		{"catalog", seedCatalog},
		{"promo codes", seedPromos},
		{"delivery types", seedDelivery},
	} {
		log.Printf("Seeding %s...", step.name)
		if err := step.fn(tx); err != nil {
			_ = tx.Rollback()
			log.Fatalf("Failed to seed %s: %v", step.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}
	log.Println("Seeding completed successfully!")
}

func seedCountries(tx *sql.Tx) error {
	countries := []struct {
		ISO2, Title string
		Behavior    int
		VAT         string
		CanInvoice  bool
	}{
		{"LV", "Latvia", 1, "0.21", true},
		{"LT", "Lithuania", 3, "0.21", true},
		{"EE", "Estonia", 3, "0.22", true},
		{"DE", "Germany", 4, "0.19", true},
		{"FI", "Finland", 4, "0.255", true},
		{"PL", "Poland", 2, "0.23", true},
		{"NO", "Norway", 5, "0", false},
		{"GB", "United Kingdom", 5, "0", false},
	}
	for i, c := range countries {
		_, err := tx.Exec(`INSERT INTO countries (iso2, title, vat_behavior, vat, can_invoice, sort_order)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (iso2) DO UPDATE SET title = EXCLUDED.title, vat_behavior = EXCLUDED.vat_behavior, vat = EXCLUDED.vat, can_invoice = EXCLUDED.can_invoice`,
			c.ISO2, c.Title, c.Behavior, c.VAT, c.CanInvoice, i)
		if err != nil {
			return fmt.Errorf("%s: %w", c.ISO2, err)
		}
	}
	return nil
}

func seedCatalog(tx *sql.Tx) error {
	var categoryID int64
	err := tx.QueryRow(`INSERT INTO categories (slug, name, path) VALUES ('tea', 'Tea', 'tea')
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name RETURNING id`).Scan(&categoryID)
	if err != nil {
		return err
	}

	makers := map[string]int64{}
	for _, m := range []struct{ Slug, Name string }{{"ahmad", "Ahmad Tea"}, {"riga", "Riga Blends"}} {
		var id int64
		err := tx.QueryRow(`INSERT INTO manufacturers (slug, name) VALUES ($1, $2)
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name RETURNING id`, m.Slug, m.Name).Scan(&id)
		if err != nil {
			return err
		}
		makers[m.Slug] = id
	}

	var colorParam int64
	if err := tx.QueryRow(`INSERT INTO parameters (name) VALUES ('Colour') RETURNING id`).Scan(&colorParam); err != nil {
		return err
	}
	colors := map[string]int64{}
	for i, c := range []struct{ Slug, Name string }{{"green", "Green"}, {"black", "Black"}, {"white", "White"}} {
		var id int64
		err := tx.QueryRow(`INSERT INTO parameter_values (parameter_id, slug, name, sort_order) VALUES ($1, $2, $3, $4) RETURNING id`,
			colorParam, c.Slug, c.Name, i).Scan(&id)
		if err != nil {
			return err
		}
		colors[c.Slug] = id
	}

	products := []struct {
		Slug, Articul, Name, Price string
		Discount                   sql.NullString
		Stock                      int
		Maker, Color               string
	}{
		{"sencha", "T-100", "Sencha", "6.90", sql.NullString{}, 40, "ahmad", "green"},
		{"gunpowder", "T-101", "Gunpowder", "5.50", sql.NullString{String: "4.90", Valid: true}, 25, "riga", "green"},
		{"assam", "T-200", "Assam", "7.20", sql.NullString{}, 12, "ahmad", "black"},
		{"earl-grey", "T-201", "Earl Grey", "8.10", sql.NullString{String: "6.99", Valid: true}, 0, "riga", "black"},
		{"silver-needle", "T-300", "Silver Needle", "19.00", sql.NullString{}, 3, "riga", "white"},
	}
	for i, p := range products {
		var id int64
		err := tx.QueryRow(`INSERT INTO products (category_id, slug, articul, name, price, discount_price, stock, manufacturer_id, sort_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (category_id, articul) DO UPDATE SET price = EXCLUDED.price, discount_price = EXCLUDED.discount_price, stock = EXCLUDED.stock
RETURNING id`, categoryID, p.Slug, p.Articul, p.Name, p.Price, p.Discount, p.Stock, makers[p.Maker], i).Scan(&id)
		if err != nil {
			return fmt.Errorf("product %s: %w", p.Articul, err)
		}
		if _, err := tx.Exec(`INSERT INTO product_parameter_values (product_id, value_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, colors[p.Color]); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`INSERT INTO facet_groups (category_id, key, name, kind, field, parameter_id, sort_order) VALUES
($1, 'color', 'Colour', 0, NULL, $2, 0),
($1, 'price', 'Price', 1, 'price', NULL, 1),
($1, 'brand', 'Brand', 2, 'manufacturer_id', NULL, 2)
ON CONFLICT (category_id, key) DO NOTHING`, categoryID, colorParam)
	return err
}

func seedPromos(tx *sql.Tx) error {
	_, err := tx.Exec(`INSERT INTO promo_codes (code, kind, value, min_sum) VALUES
('WELCOME10', 'percent', 10, 0),
('MINUS5', 'fixed', 5, 30)
ON CONFLICT (code) DO NOTHING`)
	return err
}

func seedDelivery(tx *sql.Tx) error {
	types := []struct {
		Title, Estimate string
		Model           int
		Countries       []string
		Tiers           [][2]string
	}{
		{"Parcel locker", "1-2 days", 1, []string{"LV", "LT", "EE"}, [][2]string{{"3", "2.99"}, {"10", "4.99"}}},
		{"Courier", "2-4 days", 2, []string{"LV", "LT", "EE", "DE", "FI", "PL"}, [][2]string{{"50", "7.50"}, {"100", "3.50"}, {"1000000", "0"}}},
	}
	for i, t := range types {
		var id int64
		err := tx.QueryRow(`INSERT INTO delivery_types (title, estimated_time, model, sort_order) VALUES ($1, $2, $3, $4) RETURNING id`,
			t.Title, t.Estimate, t.Model, i).Scan(&id)
		if err != nil {
			return err
		}
		for _, iso := range t.Countries {
			if _, err := tx.Exec(`INSERT INTO delivery_type_countries (delivery_type_id, iso2) VALUES ($1, $2)`, id, iso); err != nil {
				return err
			}
		}
		for _, tier := range t.Tiers {
			if _, err := tx.Exec(`INSERT INTO delivery_tiers (delivery_type_id, up_to, price) VALUES ($1, $2, $3)`, id, tier[0], tier[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
