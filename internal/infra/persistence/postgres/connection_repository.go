package postgres

import (
	"context"
	"time"

	"calsync/internal/domain/entity"
	"calsync/internal/domain/repository"
	"calsync/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// connectionRepository implements repository.ConnectionRepository using GORM.
type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository is the constructor for connectionRepository.
func NewConnectionRepository(db *gorm.DB) repository.ConnectionRepository {
	return &connectionRepository{db: db}
}

// FindByID retrieves a single connection by its unique ID.
func (repo *connectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.SyncConnection, error) {
	var connM model.SyncConnectionModel
	if err := repo.db.WithContext(ctx).First(&connM, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrConnectionNotFound
		}

		return nil, errors.Wrap(err, "failed to find connection by id")
	}

	return toConnectionDomain(&connM), nil
}

// FindByUserAndProvider retrieves the connection for one (user, provider)
// pair regardless of status.
func (repo *connectionRepository) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider entity.Provider) (*entity.SyncConnection, error) {
	var connM model.SyncConnectionModel
	err := repo.db.WithContext(ctx).
		First(&connM, "user_id = ? AND provider = ?", userID, string(provider)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrConnectionNotFound
		}

		return nil, errors.Wrap(err, "failed to find connection by user and provider")
	}

	return toConnectionDomain(&connM), nil
}

// FindActiveByUser retrieves all active connections for a user.
func (repo *connectionRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*entity.SyncConnection, error) {
	var models []model.SyncConnectionModel
	err := repo.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(entity.ConnectionActive)).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active connections")
	}

	return toConnectionDomains(models), nil
}

// FindDueForSync retrieves active connections whose last sync is older than
// the cutoff or that never synced.
func (repo *connectionRepository) FindDueForSync(ctx context.Context, cutoff time.Time) ([]*entity.SyncConnection, error) {
	var models []model.SyncConnectionModel
	err := repo.db.WithContext(ctx).
		Where("status = ? AND (last_sync_at IS NULL OR last_sync_at < ?)", string(entity.ConnectionActive), cutoff).
		Order("last_sync_at NULLS FIRST").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list connections due for sync")
	}

	return toConnectionDomains(models), nil
}

// Create persists a new connection.
func (repo *connectionRepository) Create(ctx context.Context, conn *entity.SyncConnection) error {
	connM := fromConnectionDomain(conn)
	if err := repo.db.WithContext(ctx).Create(connM).Error; err != nil {
		return errors.Wrap(err, "failed to create connection")
	}

	conn.ID = connM.ID
	conn.CreatedAt = connM.CreatedAt
	conn.UpdatedAt = connM.UpdatedAt

	return nil
}

// Update modifies an existing connection.
func (repo *connectionRepository) Update(ctx context.Context, conn *entity.SyncConnection) error {
	connM := fromConnectionDomain(conn)
	result := repo.db.WithContext(ctx).Model(&model.SyncConnectionModel{}).
		Where("id = ?", conn.ID).
		Updates(map[string]any{
			"provider_account_id": connM.ProviderAccountID,
			"access_token":        connM.AccessToken,
			"refresh_token":       connM.RefreshToken,
			"token_expires_at":    connM.TokenExpiresAt,
			"status":              connM.Status,
			"last_sync_at":        connM.LastSyncAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update connection")
	}
	if result.RowsAffected == 0 {
		return repository.ErrConnectionNotFound
	}

	return nil
}

// UpdateTokens persists refreshed credentials for a connection.
func (repo *connectionRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	updates := map[string]any{
		"access_token":     accessToken,
		"token_expires_at": expiresAt,
	}
	// Providers may omit the refresh token on renewal; keep the old one.
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}

	result := repo.db.WithContext(ctx).Model(&model.SyncConnectionModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update connection tokens")
	}
	if result.RowsAffected == 0 {
		return repository.ErrConnectionNotFound
	}

	return nil
}

// UpdateStatus transitions a connection's lifecycle status.
func (repo *connectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.ConnectionStatus) error {
	result := repo.db.WithContext(ctx).Model(&model.SyncConnectionModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update connection status")
	}
	if result.RowsAffected == 0 {
		return repository.ErrConnectionNotFound
	}

	return nil
}

// MarkSynced stamps the connection's last full-sync time.
func (repo *connectionRepository) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := repo.db.WithContext(ctx).Model(&model.SyncConnectionModel{}).
		Where("id = ?", id).
		Update("last_sync_at", at)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark connection synced")
	}
	if result.RowsAffected == 0 {
		return repository.ErrConnectionNotFound
	}

	return nil
}

// --- Mapper Functions ---

func toConnectionDomain(data *model.SyncConnectionModel) *entity.SyncConnection {
	if data == nil {
		return nil
	}

	return &entity.SyncConnection{
		ID:                data.ID,
		UserID:            data.UserID,
		Provider:          entity.Provider(data.Provider),
		ProviderAccountID: data.ProviderAccountID,
		AccessToken:       data.AccessToken,
		RefreshToken:      data.RefreshToken,
		TokenExpiresAt:    data.TokenExpiresAt,
		Status:            entity.ConnectionStatus(data.Status),
		LastSyncAt:        data.LastSyncAt,
		CreatedAt:         data.CreatedAt,
		UpdatedAt:         data.UpdatedAt,
	}
}

func toConnectionDomains(models []model.SyncConnectionModel) []*entity.SyncConnection {
	conns := make([]*entity.SyncConnection, 0, len(models))
	for i := range models {
		conns = append(conns, toConnectionDomain(&models[i]))
	}

	return conns
}

func fromConnectionDomain(data *entity.SyncConnection) *model.SyncConnectionModel {
	if data == nil {
		return nil
	}

	return &model.SyncConnectionModel{
		ID:                data.ID,
		UserID:            data.UserID,
		Provider:          string(data.Provider),
		ProviderAccountID: data.ProviderAccountID,
		AccessToken:       data.AccessToken,
		RefreshToken:      data.RefreshToken,
		TokenExpiresAt:    data.TokenExpiresAt,
		Status:            string(data.Status),
		LastSyncAt:        data.LastSyncAt,
	}
}
