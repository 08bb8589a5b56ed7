package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const availabilityCachePrefix = "reservas:availability:"

// CachedAvailabilityClient is the client used by read-only consumers such as
// hallway displays. It attaches API key credentials to every call and can
// serve repeated queries from Redis for a short TTL.
type CachedAvailabilityClient struct {
	client   *AvailabilityClient
	apiKey   string
	apiExtra string

	redis    *redis.Client
	cacheTTL time.Duration
}

func NewCachedAvailabilityClient(cc grpc.ClientConnInterface, apiKey, apiExtra string) *CachedAvailabilityClient {
	return &CachedAvailabilityClient{
		client:   NewAvailabilityClient(cc),
		apiKey:   apiKey,
		apiExtra: apiExtra,
	}
}

// UseRedisCache enables caching. A zero ttl disables it.
func (c *CachedAvailabilityClient) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// FindAvailableRooms lists rooms free for date (YYYY-MM-DD) between the HH:MM clocks.
func (c *CachedAvailabilityClient) FindAvailableRooms(ctx context.Context, date, start, end string) ([]RoomMessage, error) {
	cacheKey := fmt.Sprintf("%srooms:%s:%s:%s", availabilityCachePrefix, date, start, end)
	var resp FindAvailableRoomsResponse

	if c.readCache(ctx, cacheKey, &resp) {
		return resp.Rooms, nil
	}

	out, err := c.client.FindAvailableRooms(c.withCredentials(ctx),
		&FindAvailableRoomsRequest{Date: date, StartTime: start, EndTime: end})
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, out)
	return out.Rooms, nil
}

func (c *CachedAvailabilityClient) CheckRoom(ctx context.Context, roomID, date, start, end string) (*CheckRoomResponse, error) {
	cacheKey := fmt.Sprintf("%sroom:%s:%s:%s:%s", availabilityCachePrefix, roomID, date, start, end)
	var resp CheckRoomResponse

	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}

	out, err := c.client.CheckRoom(c.withCredentials(ctx),
		&CheckRoomRequest{RoomID: roomID, Date: date, StartTime: start, EndTime: end})
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, out)
	return out, nil
}

func (c *CachedAvailabilityClient) withCredentials(ctx context.Context) context.Context {
	var pairs []string
	if c.apiKey != "" {
		pairs = append(pairs, apiKeyHeaderDefault, c.apiKey)
	}
	if c.apiExtra != "" {
		pairs = append(pairs, apiExtraHeaderDefault, c.apiExtra)
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func (c *CachedAvailabilityClient) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *CachedAvailabilityClient) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}
