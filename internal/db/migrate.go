package db

import (
	"fmt"

	"github.com/zulandar/tradepost/internal/config"
	"github.com/zulandar/tradepost/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.InventoryItem{},
		&models.PurchaseHistory{},
		&models.Conversation{},
		&models.ParticipantUnread{},
		&models.Message{},
		&models.ScheduledPurchaseRequest{},
		&models.ConfirmPurchaseRequest{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedDemo upserts the users and items listed in the seed section.
func SeedDemo(db *gorm.DB, seed config.SeedConfig) error {
	for _, su := range seed.Users {
		u := models.User{ID: su.ID, DisplayName: su.DisplayName}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
		}).Create(&u)
		if result.Error != nil {
			return fmt.Errorf("db: seed user %d: %w", su.ID, result.Error)
		}
	}

	for _, si := range seed.Items {
		item := models.InventoryItem{
			ID:              si.ID,
			SellerID:        si.SellerID,
			Title:           si.Title,
			Price:           si.Price,
			PriceNegotiable: si.PriceNegotiable,
			AcceptsTrades:   si.AcceptsTrades,
			Location:        si.Location,
			Status:          models.ItemActive,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"seller_id", "title", "price", "price_negotiable", "accepts_trades", "location"}),
		}).Create(&item)
		if result.Error != nil {
			return fmt.Errorf("db: seed item %d: %w", si.ID, result.Error)
		}
	}
	return nil
}
