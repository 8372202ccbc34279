package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

type PhoneHasher interface {
	Hash(phone string) string
}

type Bucketer interface {
	UserBucket(key string) int
}

type FieldSealer interface {
	Seal(ctx context.Context, plaintext, aad string) ([]byte, error)
	Open(ctx context.Context, blob []byte, aad string) (string, error)
	KeyID() string
}

// UserRepository stores users partitioned by a murmur3 bucket of the user
// ID. phone_to_user resolves a phone hash to its (bucket, id); the phone
// number itself is only stored encrypted.
type UserRepository struct {
	client  *ScyllaClient
	hasher  PhoneHasher
	buckets Bucketer
	sealer  FieldSealer
}

func NewUserRepository(client *ScyllaClient, hasher PhoneHasher, buckets Bucketer, sealer FieldSealer) *UserRepository {
	return &UserRepository{client: client, hasher: hasher, buckets: buckets, sealer: sealer}
}

func (r *UserRepository) UpsertVerified(ctx context.Context, phone string, at time.Time) (*models.User, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	phoneHash := r.hasher.Hash(phone)
	at = at.UTC()

	bucket, userID, err := r.lookup(ctx, phoneHash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		user, created, err := r.create(ctx, phone, phoneHash, at)
		if err != nil {
			return nil, err
		}
		if created {
			return user, nil
		}
		bucket, userID = user.UserBucket, user.UserID
	case err != nil:
		return nil, err
	}

	stmts := r.client.Statements
	if err := r.client.Query(ctx, stmts.MarkUserVerified, at, at, bucket, userID).Exec(); err != nil {
		util.Error("Failed to mark user verified", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to update user login: %w", err)
	}

	return r.load(ctx, bucket, userID, phone)
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	bucket, userID, err := r.lookup(ctx, r.hasher.Hash(phone))
	if err != nil {
		return nil, err
	}
	return r.load(ctx, bucket, userID, phone)
}

func (r *UserRepository) lookup(ctx context.Context, phoneHash string) (int, string, error) {
	var (
		bucket int
		userID string
	)
	err := r.client.Query(ctx, r.client.Statements.GetPhoneMapping, phoneHash).Scan(&bucket, &userID)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, "", repository.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to look up phone mapping", zap.Error(err))
		return 0, "", fmt.Errorf("failed to look up user by phone: %w", err)
	}
	return bucket, userID, nil
}

// create claims the phone hash with a lightweight transaction. When another
// request won the race, the winner's (bucket, id) is returned with
// created=false.
func (r *UserRepository) create(ctx context.Context, phone, phoneHash string, at time.Time) (*models.User, bool, error) {
	userID := uuid.NewString()
	bucket := r.buckets.UserBucket(userID)
	stmts := r.client.Statements

	existing := map[string]interface{}{}
	applied, err := r.client.Query(ctx, stmts.CreatePhoneMapping, phoneHash, bucket, userID, at).MapScanCAS(existing)
	if err != nil {
		util.Error("Failed to claim phone mapping", zap.Error(err))
		return nil, false, fmt.Errorf("failed to create phone mapping: %w", err)
	}
	if !applied {
		winner := &models.User{}
		if b, ok := existing["user_bucket"].(int); ok {
			winner.UserBucket = b
		}
		if id, ok := existing["user_id"].(string); ok {
			winner.UserID = id
		}
		return winner, false, nil
	}

	sealed, err := r.sealer.Seal(ctx, phone, phoneHash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt phone number: %w", err)
	}

	user := &models.User{
		UserBucket:     bucket,
		UserID:         userID,
		PhoneNumber:    phone,
		PhoneHash:      phoneHash,
		PhoneEncrypted: sealed,
		PhoneKeyID:     r.sealer.KeyID(),
		Role:           models.RoleCustomer,
		IsVerified:     true,
		CreatedAt:      at,
		UpdatedAt:      at,
		LastLogin:      &at,
	}

	err = r.client.Query(ctx, stmts.CreateUser,
		user.UserBucket, user.UserID, user.PhoneHash, user.PhoneEncrypted, user.PhoneKeyID,
		user.Role, user.IsVerified, user.CreatedAt, user.UpdatedAt, at,
	).Exec()
	if err != nil {
		util.Error("Failed to create user", zap.String("user_id", userID), zap.Error(err))
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created", zap.String("user_id", userID), zap.Int("user_bucket", bucket))
	return user, true, nil
}

func (r *UserRepository) load(ctx context.Context, bucket int, userID, phone string) (*models.User, error) {
	user := &models.User{}
	var lastLogin time.Time

	err := r.client.Query(ctx, r.client.Statements.GetUserByID, bucket, userID).Scan(
		&user.UserBucket, &user.UserID, &user.PhoneHash, &user.PhoneEncrypted, &user.PhoneKeyID,
		&user.Role, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt, &lastLogin,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to load user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !lastLogin.IsZero() {
		user.LastLogin = &lastLogin
	}

	user.PhoneNumber = phone
	if phone == "" && len(user.PhoneEncrypted) > 0 {
		if user.PhoneNumber, err = r.sealer.Open(ctx, user.PhoneEncrypted, user.PhoneHash); err != nil {
			return nil, fmt.Errorf("failed to decrypt phone number: %w", err)
		}
	}
	return user, nil
}
