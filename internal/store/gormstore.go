package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"analysis/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Options configures the GORM/MySQL-backed Store, mirroring the teacher's
// connection-pool tuning knobs (internal/db.Options in the source repo).
type Options struct {
	DSN             string
	Automigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// GormStore is the production Store, backed by MySQL via GORM.
type GormStore struct {
	db *gorm.DB
}

// Open connects, tunes the pool, and (if requested) migrates the schema.
func Open(opt Options) (*GormStore, error) {
	cfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		PrepareStmt:            true,
		SkipDefaultTransaction: false,
	}

	gdb, err := gorm.Open(mysql.Open(opt.DSN), cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if opt.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opt.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if opt.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opt.ConnMaxIdleTime)
	} else {
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	s := &GormStore{db: gdb}
	if opt.Automigrate {
		if err := s.migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *GormStore) migrate() error {
	return s.db.Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4").AutoMigrate(
		&models.User{},
		&models.Trade{},
		&models.DailyPnL{},
		&models.TokenMeta{},
		&models.StreamSession{},
		&models.TokenPosition{},
	)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) ListLiveUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("is_live = ?", true).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list live users: %w", err)
	}
	return users, nil
}

func (s *GormStore) ListAllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list all users: %w", err)
	}
	return users, nil
}

// UpsertTrade inserts by signature, overwriting every column on conflict and
// returning the stable row including its id — GORM's OnConflict DoUpdates
// gives us exactly the upsert-by-unique-key semantics a signature-keyed
// trade ledger requires.
func (s *GormStore) UpsertTrade(ctx context.Context, t models.Trade) (models.Trade, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "signature"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"wallet_address", "user_id", "token_a", "token_b", "type",
			"amount_a", "amount_b", "trade_pnl", "tx_fees", "platform",
			"timestamp", "raw_data", "updated_at",
		}),
	}).Create(&t).Error
	if err != nil {
		return models.Trade{}, fmt.Errorf("upsert trade: %w", err)
	}
	var out models.Trade
	if err := s.db.WithContext(ctx).Where("signature = ?", t.Signature).First(&out).Error; err != nil {
		return models.Trade{}, fmt.Errorf("reload upserted trade: %w", err)
	}
	return out, nil
}

func (s *GormStore) LatestSignaturesForWallet(ctx context.Context, wallet string, limit int) ([]SignatureRecord, error) {
	var rows []models.Trade
	q := s.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("latest signatures: %w", err)
	}
	out := make([]SignatureRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, SignatureRecord{Signature: r.Signature, Timestamp: r.Timestamp})
	}
	return out, nil
}

func (s *GormStore) TradeBySignature(ctx context.Context, signature string) (*models.Trade, error) {
	var row models.Trade
	err := s.db.WithContext(ctx).Where("signature = ?", signature).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trade by signature: %w", err)
	}
	return &row, nil
}

func (s *GormStore) GetDailyPnl(ctx context.Context, wallet string, dayStart time.Time) (*models.DailyPnL, error) {
	var row models.DailyPnL
	err := s.db.WithContext(ctx).
		Where("wallet_address = ? AND date = ?", wallet, dayStart).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily pnl: %w", err)
	}
	return &row, nil
}

func (s *GormStore) InsertDailyPnl(ctx context.Context, row models.DailyPnL) (models.DailyPnL, error) {
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.DailyPnL{}, fmt.Errorf("insert daily pnl: %w", err)
	}
	return row, nil
}

func (s *GormStore) UpdateDailyPnl(ctx context.Context, wallet string, dayStart time.Time, fields DailyPnlFields) (models.DailyPnL, error) {
	var row models.DailyPnL
	if err := s.db.WithContext(ctx).
		Where("wallet_address = ? AND date = ?", wallet, dayStart).
		First(&row).Error; err != nil {
		return models.DailyPnL{}, fmt.Errorf("update daily pnl: %w", err)
	}
	row.EndBalance = fields.EndBalance
	row.RealizedPnl = fields.RealizedPnl
	row.TotalTrades = fields.TotalTrades
	row.LastTradeID = fields.LastTradeID
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return models.DailyPnL{}, fmt.Errorf("update daily pnl: %w", err)
	}
	return row, nil
}

func (s *GormStore) LastDailyPnl(ctx context.Context, wallet string) (*models.DailyPnL, error) {
	var row models.DailyPnL
	err := s.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last daily pnl: %w", err)
	}
	return &row, nil
}

func (s *GormStore) LatestTrade(ctx context.Context, wallet string) (*models.Trade, error) {
	var row models.Trade
	err := s.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("timestamp DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest trade: %w", err)
	}
	return &row, nil
}

func (s *GormStore) TradeByID(ctx context.Context, id uint) (*models.Trade, error) {
	var row models.Trade
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trade by id: %w", err)
	}
	return &row, nil
}

func (s *GormStore) GetTokenMeta(ctx context.Context, mint string) (*models.TokenMeta, error) {
	var row models.TokenMeta
	err := s.db.WithContext(ctx).Where("address = ?", mint).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token meta: %w", err)
	}
	return &row, nil
}

func (s *GormStore) UpsertTokenMeta(ctx context.Context, t models.TokenMeta) (models.TokenMeta, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "name", "decimals", "verified", "last_price", "last_updated", "metadata",
		}),
	}).Create(&t).Error
	if err != nil {
		return models.TokenMeta{}, fmt.Errorf("upsert token meta: %w", err)
	}
	var out models.TokenMeta
	if err := s.db.WithContext(ctx).Where("address = ?", t.Address).First(&out).Error; err != nil {
		return models.TokenMeta{}, fmt.Errorf("reload upserted token meta: %w", err)
	}
	return out, nil
}

func (s *GormStore) ListAllTokenMeta(ctx context.Context) ([]models.TokenMeta, error) {
	var rows []models.TokenMeta
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list all token meta: %w", err)
	}
	return rows, nil
}

func (s *GormStore) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	var row models.User
	err := s.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by wallet: %w", err)
	}
	return &row, nil
}
