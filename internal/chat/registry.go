package chat

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"marketplace-chat-service/internal/clients"
	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/repositories"
)

var ErrOwnListing = errors.New("cannot open a chat on your own listing")

// Registry maps a (listing, unordered participant pair) key to its room,
// creating the room lazily on first contact. Concurrent creates for the same
// canonical key are coalesced through a single flight group on top of the
// store's atomic create-if-absent.
type Registry struct {
	rooms    repositories.RoomRepository
	listings clients.ListingService
	group    singleflight.Group
}

// NewRegistry constructs a Registry.
func NewRegistry(rooms repositories.RoomRepository, listings clients.ListingService) *Registry {
	return &Registry{rooms: rooms, listings: listings}
}

// GetOrCreate resolves the room for (listing, pair), creating it if absent.
// Safe under concurrent calls for the same pair in either id order.
func (r *Registry) GetOrCreate(ctx context.Context, listingID int, userA int, userB int) (models.Room, error) {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	key := fmt.Sprintf("%d:%d:%d", listingID, lo, hi)

	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.rooms.GetOrCreate(ctx, listingID, lo, hi)
	})
	if err != nil {
		return models.Room{}, err
	}
	return result.(models.Room), nil
}

// OpenForListing resolves the counter-party of a listing chat and returns the
// room. When peerID is zero the listing owner is the counter-party; buyers
// open chats knowing only the listing.
func (r *Registry) OpenForListing(ctx context.Context, listingID int, requesterID int, peerID int) (models.Room, error) {
	if peerID == 0 {
		listing, err := r.listings.GetListing(ctx, listingID)
		if err != nil {
			return models.Room{}, err
		}
		peerID = listing.OwnerID
	}
	if peerID == requesterID {
		return models.Room{}, ErrOwnListing
	}
	return r.GetOrCreate(ctx, listingID, requesterID, peerID)
}

// Find looks a room up by id.
func (r *Registry) Find(ctx context.Context, roomID int) (models.Room, error) {
	return r.rooms.Find(ctx, roomID)
}
