package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/msslab/testmgr/pkg/config"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides persistence for users, run records, and target configs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// User CRUD.
	GetUser(ctx context.Context, userID string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, userID string) error

	// Run records.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ActiveRunForOwner(ctx context.Context, owner, kind string) (*Run, error)
	LatestRunForOwner(ctx context.Context, owner, kind string) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID, status string) error
	SetRunRawResult(ctx context.Context, runID, path string) error
	SetRunSummaryResult(ctx context.Context, runID, path string) error

	// Line config CRUD.
	ListLineConfigs(ctx context.Context, businessUnit string) ([]LineConfig, error)
	ListBusinessUnits(ctx context.Context) ([]string, error)
	GetLineConfig(ctx context.Context, lineName string) (*LineConfig, error)
	CreateLineConfig(ctx context.Context, cfg *LineConfig) error
	DeleteLineConfig(ctx context.Context, lineName string) error

	// Module config CRUD.
	ListModuleConfigs(ctx context.Context) ([]ModuleConfig, error)
	GetModuleConfig(ctx context.Context, moduleName string) (*ModuleConfig, error)
	CreateModuleConfig(ctx context.Context, cfg *ModuleConfig) error
	DeleteModuleConfig(ctx context.Context, moduleName string) error

	// Favorites.
	ListFavorites(ctx context.Context, owner string) ([]Favorite, error)
	AddFavorite(ctx context.Context, fav *Favorite) error

	// Seeding from config.
	SeedUsers(ctx context.Context, users []config.SeedUser) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Run{},
		&LineConfig{},
		&ModuleConfig{},
		&Favorite{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// translate maps gorm's not-found error onto the store sentinel.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// --- User CRUD ---

func (s *store) GetUser(
	ctx context.Context, userID string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user: %w", translate(err))
	}

	return &user, nil
}

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	return users, nil
}

func (s *store) CreateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

func (s *store) UpdateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	return nil
}

func (s *store) DeleteUser(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&User{})
	if result.Error != nil {
		return fmt.Errorf("deleting user: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting user: %w", ErrNotFound)
	}

	return nil
}

// --- Run records ---

func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

func (s *store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", translate(err))
	}

	return &run, nil
}

// ActiveRunForOwner returns the owner's PENDING or RUNNING run of the
// given kind, or ErrNotFound when no run is active.
func (s *store) ActiveRunForOwner(
	ctx context.Context, owner, kind string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("owner = ? AND kind = ? AND status IN ?",
			owner, kind, []string{StatusPending, StatusRunning}).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting active run: %w", translate(err))
	}

	return &run, nil
}

// LatestRunForOwner returns the owner's most recently requested run of
// the given kind regardless of status.
func (s *store) LatestRunForOwner(
	ctx context.Context, owner, kind string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("owner = ? AND kind = ?", owner, kind).
		Order("requested_at DESC").
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting latest run: %w", translate(err))
	}

	return &run, nil
}

func (s *store) UpdateRunStatus(
	ctx context.Context, runID, status string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_id = ?", runID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}

	return nil
}

func (s *store) SetRunRawResult(
	ctx context.Context, runID, path string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_id = ?", runID).
		Update("raw_result_path", path).Error; err != nil {
		return fmt.Errorf("setting run raw result: %w", err)
	}

	return nil
}

func (s *store) SetRunSummaryResult(
	ctx context.Context, runID, path string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_id = ?", runID).
		Update("summary_result_path", path).Error; err != nil {
		return fmt.Errorf("setting run summary result: %w", err)
	}

	return nil
}

// --- Line config CRUD ---

func (s *store) ListLineConfigs(
	ctx context.Context, businessUnit string,
) ([]LineConfig, error) {
	q := s.db.WithContext(ctx).Order("line_name ASC")
	if businessUnit != "" {
		q = q.Where("business_unit = ?", businessUnit)
	}

	var configs []LineConfig
	if err := q.Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("listing line configs: %w", err)
	}

	return configs, nil
}

func (s *store) ListBusinessUnits(ctx context.Context) ([]string, error) {
	var units []string
	if err := s.db.WithContext(ctx).
		Model(&LineConfig{}).
		Distinct("business_unit").
		Order("business_unit ASC").
		Pluck("business_unit", &units).Error; err != nil {
		return nil, fmt.Errorf("listing business units: %w", err)
	}

	return units, nil
}

func (s *store) GetLineConfig(
	ctx context.Context, lineName string,
) (*LineConfig, error) {
	var cfg LineConfig
	if err := s.db.WithContext(ctx).
		Where("line_name = ?", lineName).
		First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("getting line config: %w", translate(err))
	}

	return &cfg, nil
}

func (s *store) CreateLineConfig(
	ctx context.Context, cfg *LineConfig,
) error {
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating line config: %w", err)
	}

	return nil
}

func (s *store) DeleteLineConfig(
	ctx context.Context, lineName string,
) error {
	result := s.db.WithContext(ctx).
		Where("line_name = ?", lineName).
		Delete(&LineConfig{})
	if result.Error != nil {
		return fmt.Errorf("deleting line config: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting line config: %w", ErrNotFound)
	}

	return nil
}

// --- Module config CRUD ---

func (s *store) ListModuleConfigs(
	ctx context.Context,
) ([]ModuleConfig, error) {
	var configs []ModuleConfig
	if err := s.db.WithContext(ctx).
		Order("module_name ASC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("listing module configs: %w", err)
	}

	return configs, nil
}

func (s *store) GetModuleConfig(
	ctx context.Context, moduleName string,
) (*ModuleConfig, error) {
	var cfg ModuleConfig
	if err := s.db.WithContext(ctx).
		Where("module_name = ?", moduleName).
		First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("getting module config: %w", translate(err))
	}

	return &cfg, nil
}

func (s *store) CreateModuleConfig(
	ctx context.Context, cfg *ModuleConfig,
) error {
	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating module config: %w", err)
	}

	return nil
}

func (s *store) DeleteModuleConfig(
	ctx context.Context, moduleName string,
) error {
	result := s.db.WithContext(ctx).
		Where("module_name = ?", moduleName).
		Delete(&ModuleConfig{})
	if result.Error != nil {
		return fmt.Errorf("deleting module config: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting module config: %w", ErrNotFound)
	}

	return nil
}

// --- Favorites ---

func (s *store) ListFavorites(
	ctx context.Context, owner string,
) ([]Favorite, error) {
	var favs []Favorite
	if err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("id ASC").
		Find(&favs).Error; err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}

	return favs, nil
}

func (s *store) AddFavorite(ctx context.Context, fav *Favorite) error {
	if err := s.db.WithContext(ctx).Create(fav).Error; err != nil {
		return fmt.Errorf("adding favorite: %w", err)
	}

	return nil
}

// --- Seeding ---

// SeedUsers upserts config-sourced users. Seeded users are always
// approved; the admin flag follows the config on every start.
func (s *store) SeedUsers(
	ctx context.Context, users []config.SeedUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.UserID, err)
		}

		var existing User

		result := s.db.WithContext(ctx).
			Where("user_id = ?", u.UserID).
			First(&existing)

		if result.Error == nil {
			existing.PasswordHash = string(hash)
			existing.IsAdmin = u.Admin
			existing.IsApproved = true

			if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
				return fmt.Errorf("updating seed user %q: %w", u.UserID, err)
			}

			continue
		}

		newUser := User{
			UserID:       u.UserID,
			PasswordHash: string(hash),
			IsAdmin:      u.Admin,
			IsApproved:   true,
			CreatedAt:    time.Now().UTC(),
		}

		if err := s.db.WithContext(ctx).Create(&newUser).Error; err != nil {
			return fmt.Errorf("seeding user %q: %w", u.UserID, err)
		}
	}

	if len(users) > 0 {
		s.log.WithField("count", len(users)).
			Info("Seeded users from config")
	}

	return nil
}
