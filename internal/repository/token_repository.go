package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nominal-hq/qbo-gateway/model"
)

// ErrTokenNotFound signals that no credential set is stored for a realm.
var ErrTokenNotFound = errors.New("no token stored for realm")

// tokenColumns are the credential fields replaced together on every write.
var tokenColumns = []string{"access_token", "refresh_token", "token_type", "expires_at", "refresh_expires_at", "updated_at"}

type TokenRepository interface {
	// GetByRealmID returns the current credential set for the realm or
	// ErrTokenNotFound.
	GetByRealmID(ctx context.Context, realmID string) (*model.QuickBooksToken, error)
	// Upsert atomically replaces the credential set for token.RealmID.
	Upsert(ctx context.Context, token *model.QuickBooksToken) error
	// UpdateRefreshed replaces the realm's credential set only if its stored
	// refresh token still equals prevRefreshToken. It reports false when a
	// concurrent refresh already rotated the tokens; the caller should
	// re-read instead of clobbering the newer credentials.
	UpdateRefreshed(ctx context.Context, realmID string, prevRefreshToken string, token *model.QuickBooksToken) (bool, error)
}

type tokenRepository struct {
	db *gorm.DB
}

func (r *tokenRepository) GetByRealmID(ctx context.Context, realmID string) (*model.QuickBooksToken, error) {
	var token model.QuickBooksToken
	err := r.db.WithContext(ctx).Where("realm_id = ?", realmID).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *tokenRepository) Upsert(ctx context.Context, token *model.QuickBooksToken) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "realm_id"}},
			DoUpdates: clause.AssignmentColumns(tokenColumns),
		}).
		Create(token).Error
}

func (r *tokenRepository) UpdateRefreshed(ctx context.Context, realmID string, prevRefreshToken string, token *model.QuickBooksToken) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.QuickBooksToken{}).
		Where("realm_id = ? AND refresh_token = ?", realmID, prevRefreshToken).
		Updates(map[string]interface{}{
			"access_token":       token.AccessToken,
			"refresh_token":      token.RefreshToken,
			"token_type":         token.TokenType,
			"expires_at":         token.ExpiresAt,
			"refresh_expires_at": token.RefreshExpiresAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db}
}
