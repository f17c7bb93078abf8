// Package membership answers "is this user in this room" from Redis sets.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store keeps room membership in Redis: one set of user ids per room and a
// reverse index of room codes per user.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// NewStore creates a Store. Keys are namespaced by prefix (e.g. "alliance").
func NewStore(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "alliance"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) keyMembers(room string) string { return s.prefix + ":room:" + strings.TrimSpace(room) + ":members" }
func (s *Store) keyUserRooms(user string) string {
	return s.prefix + ":user:" + strings.TrimSpace(user) + ":rooms"
}

// IsMember reports whether userID belongs to roomCode.
func (s *Store) IsMember(ctx context.Context, roomCode, userID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.keyMembers(roomCode), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// AddMember adds userID to roomCode.
func (s *Store) AddMember(ctx context.Context, roomCode, userID string) error {
	if strings.TrimSpace(roomCode) == "" || strings.TrimSpace(userID) == "" {
		return errors.New("room code and user id are required")
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.keyMembers(roomCode), userID)
	pipe.SAdd(ctx, s.keyUserRooms(userID), roomCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes userID from roomCode.
func (s *Store) RemoveMember(ctx context.Context, roomCode, userID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, s.keyMembers(roomCode), userID)
	pipe.SRem(ctx, s.keyUserRooms(userID), roomCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// Members returns the user ids of a room.
func (s *Store) Members(ctx context.Context, roomCode string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyMembers(roomCode)).Result()
}

// RoomsOf returns the room codes a user belongs to.
func (s *Store) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyUserRooms(userID)).Result()
}
