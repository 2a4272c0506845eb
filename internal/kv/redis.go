// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kv

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a production Store backed by github.com/redis/go-redis/v9,
// the same client etalazz-vsa wires in internal/ratelimiter/persistence/clients.go
// (there, as a RedisEvaler for Lua scripting; here, as a plain key/value
// and prefix-scan backend for rules, shell excludes and metrics history).
type Redis struct {
	c      *redis.Client
	prefix string
}

// NewRedis constructs a Redis-backed Store. prefix namespaces every key
// (e.g. "gatewayd") so multiple gateways can share a Redis instance.
func NewRedis(addr, prefix string) *Redis {
	return &Redis{c: redis.NewClient(&redis.Options{Addr: addr}), prefix: prefix}
}

func (r *Redis) wireKey(key ...string) string {
	if r.prefix == "" {
		return Join(key...)
	}
	return r.prefix + ":" + Join(key...)
}

func (r *Redis) Get(ctx context.Context, key ...string) ([]byte, bool, error) {
	v, err := r.c.Get(ctx, r.wireKey(key...)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, value []byte, key ...string) error {
	return r.c.Set(ctx, r.wireKey(key...), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key ...string) error {
	return r.c.Del(ctx, r.wireKey(key...)).Err()
}

func (r *Redis) List(ctx context.Context, prefix ...string) (map[string][]byte, error) {
	pattern := r.wireKey(prefix...) + ":*"
	out := make(map[string][]byte)
	iter := r.c.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		v, err := r.c.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		if r.prefix != "" {
			k = strings.TrimPrefix(k, r.prefix+":")
		}
		out[k] = v
	}
	if err := iter.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (r *Redis) Close() error { return r.c.Close() }
