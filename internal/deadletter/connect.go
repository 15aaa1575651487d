package deadletter

import (
	// Go Internal Packages
	"context"

	// External Packages
	"github.com/redis/go-redis/v9"
)

// Connect connects to the redis db and returns the client.
func Connect(ctx context.Context, uri, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: password,
		DB:       0,
	})

	_, pingErr := rdb.Ping(ctx).Result()
	if pingErr != nil {
		return nil, pingErr
	}
	return rdb, nil
}
