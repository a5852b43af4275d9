package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyTokenPrefix prefixes the per-shop durable token key.
const RedisKeyTokenPrefix = "catalog:token:"

// TokenStore is durable token storage.
type TokenStore interface {
	Get(ctx context.Context, shopID int64) (Token, error)
	Put(ctx context.Context, shopID int64, tok Token) error
}

// RedisTokenStore keeps tokens as JSON under catalog:token:<shop_id>.
type RedisTokenStore struct {
	redis *redis.Client
}

// NewRedisTokenStore creates a Redis-backed token store.
func NewRedisTokenStore(redisClient *redis.Client) *RedisTokenStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisTokenStore{redis: redisClient}
}

// TokenKey returns the Redis key for a shop's token.
func TokenKey(shopID int64) string {
	return RedisKeyTokenPrefix + strconv.FormatInt(shopID, 10)
}

// Get implements TokenStore.
func (s *RedisTokenStore) Get(ctx context.Context, shopID int64) (Token, error) {
	data, err := s.redis.Get(ctx, TokenKey(shopID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrNoToken
		}
		return Token{}, fmt.Errorf("redis get token: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, fmt.Errorf("decode stored token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return Token{}, ErrNoToken
	}
	return tok, nil
}

// Put implements TokenStore.
func (s *RedisTokenStore) Put(ctx context.Context, shopID int64, tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.redis.Set(ctx, TokenKey(shopID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

// Store is the credential store: it binds the in-memory token cell to durable
// storage. It also serves as a refresher that re-reads durable storage, for
// deployments where another process rotates the token.
type Store struct {
	creds   *Credentials
	durable TokenStore
	logger  zerolog.Logger
}

// NewStore creates a credential store.
func NewStore(creds *Credentials, durable TokenStore, logger zerolog.Logger) *Store {
	return &Store{creds: creds, durable: durable, logger: logger}
}

// Seed stores a refresh token for a shop whose durable storage is empty, so
// the first refresh can obtain an access token. Existing tokens are kept.
func (s *Store) Seed(ctx context.Context, refreshToken string) (bool, error) {
	_, err := s.durable.Get(ctx, s.creds.ShopID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNoToken):
		return false, fmt.Errorf("check stored token: %w", err)
	}

	if err := s.durable.Put(ctx, s.creds.ShopID, Token{RefreshToken: refreshToken}); err != nil {
		return false, fmt.Errorf("seed refresh token: %w", err)
	}
	s.logger.Info().Int64("shop_id", s.creds.ShopID).Msg("Seeded refresh token")
	return true, nil
}

// Credentials returns the credentials the store manages.
func (s *Store) Credentials() *Credentials {
	return s.creds
}

// LoadToken reads the token from durable storage into the current token cell.
func (s *Store) LoadToken(ctx context.Context) (string, error) {
	token, err := s.Refresh(ctx)
	if err != nil {
		return "", err
	}
	s.creds.Token.Store(token)
	return token, nil
}

// Refresh returns the access token currently in durable storage without
// touching the token cell.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	tok, err := s.durable.Get(ctx, s.creds.ShopID)
	if err != nil {
		return "", fmt.Errorf("load token for shop %d: %w", s.creds.ShopID, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("load token for shop %d: %w", s.creds.ShopID, ErrNoToken)
	}

	s.logger.Debug().
		Int64("shop_id", s.creds.ShopID).
		Time("expires_at", tok.ExpiresAt).
		Msg("Loaded access token from storage")

	return tok.AccessToken, nil
}
