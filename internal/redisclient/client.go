// Copyright 2025 James Ross
package redisclient

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Options describes a single-node or cluster Redis connection.
type Options struct {
	Addrs          []string
	Username       string
	Password       string
	DB             int
	Cluster        bool
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRetries     int
}

// New returns a configured go-redis client. Cluster mode uses the node list;
// otherwise the first address is dialed as a single node.
func New(opts Options) redis.UniversalClient {
	dialTimeout := opts.ConnectTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	commandTimeout := opts.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = 3 * time.Second
	}
	addr := "localhost:6379"
	if len(opts.Addrs) > 0 {
		addr = opts.Addrs[0]
	}

	if opts.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.Addrs,
			Username:     opts.Username,
			Password:     opts.Password,
			MaxRetries:   opts.MaxRetries,
			DialTimeout:  dialTimeout,
			ReadTimeout:  commandTimeout,
			WriteTimeout: commandTimeout,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  commandTimeout,
		WriteTimeout: commandTimeout,
	})
}
