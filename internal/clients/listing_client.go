package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Listing is the slice of a marketplace listing the chat service reads.
type Listing struct {
	ID      int    `json:"id"`
	OwnerID int    `json:"owner_id"`
	Title   string `json:"title"`
}

// User is the slice of a marketplace user the chat service reads.
type User struct {
	ID       int    `json:"id"`
	FullName string `json:"full_name"`
}

// ListingService resolves listings and users from the marketplace backend.
type ListingService interface {
	GetListing(ctx context.Context, listingID int) (Listing, error)
	GetUser(ctx context.Context, userID int) (User, error)
	BulkUsers(ctx context.Context, ids []int) ([]User, error)
}

// ListingClient calls the marketplace REST API, with a Redis cache in front
// so room resolution does not hammer the listing service.
type ListingClient struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client
	ttl     time.Duration
}

// NewListingClient constructs a ListingClient. cache may be nil to disable caching.
func NewListingClient(baseURL string, cache *redis.Client, ttl time.Duration) *ListingClient {
	return &ListingClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   cache,
		ttl:     ttl,
	}
}

// GetListing fetches one listing (cache-aside).
func (c *ListingClient) GetListing(ctx context.Context, listingID int) (Listing, error) {
	var listing Listing
	key := fmt.Sprintf("listing:%d", listingID)
	if c.cacheGet(ctx, key, &listing) {
		return listing, nil
	}

	if err := c.getJSON(ctx, fmt.Sprintf("%s/listings/%d", c.baseURL, listingID), &listing, ErrListingNotFound); err != nil {
		return Listing{}, err
	}

	c.cacheSet(ctx, key, listing)
	return listing, nil
}

// GetUser fetches one user (cache-aside).
func (c *ListingClient) GetUser(ctx context.Context, userID int) (User, error) {
	var user User
	key := fmt.Sprintf("user:%d", userID)
	if c.cacheGet(ctx, key, &user) {
		return user, nil
	}

	if err := c.getJSON(ctx, fmt.Sprintf("%s/users/%d", c.baseURL, userID), &user, ErrUserNotFound); err != nil {
		return User{}, err
	}

	c.cacheSet(ctx, key, user)
	return user, nil
}

// BulkUsers fetches several users; missing users are skipped.
func (c *ListingClient) BulkUsers(ctx context.Context, ids []int) ([]User, error) {
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		user, err := c.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (c *ListingClient) getJSON(ctx context.Context, url string, dest any, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("listing service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("listing service: unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *ListingClient) cacheGet(ctx context.Context, key string, dest any) bool {
	if c.cache == nil {
		return false
	}
	data, err := c.cache.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (c *ListingClient) cacheSet(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.cache.Set(ctx, key, data, c.ttl)
}
