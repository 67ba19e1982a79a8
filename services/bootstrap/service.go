package bootstrap

import (
	"context"
	"fmt"

	"smallbiznis-airdrop/services/airdrop"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// Migrate creates or updates the airdrop tables and their unique indexes.
func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(airdrop.Models()...); err != nil {
		zap.L().Error("[bootstrap] migration failed", zap.Error(err))
		return fmt.Errorf("migrate airdrop tables: %w", err)
	}
	zap.L().Info("[bootstrap] airdrop tables migrated", zap.Int("tables", len(airdrop.Models())))
	return nil
}
