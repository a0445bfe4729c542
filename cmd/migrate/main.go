package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/models"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

func main() {
	drop := flag.Bool("drop", false, "drop tables before creating them")
	seed := flag.Bool("seed", false, "insert sample data after creating tables")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	if *drop {
		log.Println("Dropping tables...")
		dropTables(ctx, db)
	}

	log.Println("Creating tables...")
	createTables(ctx, db)

	if *seed {
		log.Println("Seeding sample data...")
		seedData(ctx, db)
	}

	log.Println("✅ Done.")
}

func dropTables(ctx context.Context, db *bun.DB) {
	tables := []interface{}{
		(*models.Notification)(nil),
		(*models.CheckIn)(nil),
		(*models.Ticket)(nil),
		(*models.MpesaTransaction)(nil),
		(*models.Order)(nil),
		(*models.TicketCategory)(nil),
		(*models.Event)(nil),
		(*models.User)(nil),
	}
	for _, m := range tables {
		_, _ = db.NewDropTable().Model(m).IfExists().Cascade().Exec(ctx)
	}
}

func createTables(ctx context.Context, db *bun.DB) {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.TicketCategory)(nil),
		(*models.Order)(nil),
		(*models.MpesaTransaction)(nil),
		(*models.Ticket)(nil),
		(*models.CheckIn)(nil),
		(*models.Notification)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("❌ Failed to create table for %T: %v", m, err)
		}
	}
}

func seedData(ctx context.Context, db *bun.DB) {
	now := time.Now()

	users := []models.User{
		{ID: "user001", Name: "Wanjiku Kamau", Email: "wanjiku@example.com", Phone: "254712345678", Role: "customer", CreatedAt: now},
		{ID: "agent001", Name: "Gate Agent", Email: "agent@example.com", Phone: "254798765432", Role: "agent", CreatedAt: now},
		{ID: "admin001", Name: "Admin", Email: "admin@example.com", Phone: "254700000000", Role: "admin", CreatedAt: now},
	}
	_, _ = db.NewInsert().Model(&users).Exec(ctx)

	event := models.Event{
		ID:          "event001",
		Name:        "Nairobi Jazz Night",
		Description: "An evening of live jazz.",
		Venue:       "Uhuru Gardens",
		StartsAt:    now.AddDate(0, 1, 0),
		EndsAt:      now.AddDate(0, 1, 0).Add(6 * time.Hour),
		CreatedAt:   now,
	}
	_, _ = db.NewInsert().Model(&event).Exec(ctx)

	categories := []models.TicketCategory{
		{ID: "cat-regular", EventID: "event001", Name: "Regular", Price: 1500, Quantity: 500},
		{ID: "cat-vip", EventID: "event001", Name: "VIP", Price: 5000, Quantity: 50},
	}
	_, _ = db.NewInsert().Model(&categories).Exec(ctx)
}
