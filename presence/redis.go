package presence

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisStore keeps presence in Redis so other processes can read it:
//
//	<prefix>:servers          set of servers with players
//	<prefix>:players:<server> set of player names
//	<prefix>:index            hash lower(player) -> server
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(ctx context.Context, url, prefix string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "parse redis url %q", url)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %v", opts.Addr)
	}
	return NewRedisStoreFromClient(rdb, prefix), nil
}

func NewRedisStoreFromClient(rdb *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = "sockexchange"
	}
	return &redisStore{rdb: rdb, prefix: prefix}
}

func (s *redisStore) serversKey() string {
	return s.prefix + ":servers"
}

func (s *redisStore) playersKey(server string) string {
	return s.prefix + ":players:" + server
}

func (s *redisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *redisStore) SetPlayers(ctx context.Context, server string, players []string) error {
	old, err := s.rdb.SMembers(ctx, s.playersKey(server)).Result()
	if err != nil {
		return errors.Wrapf(err, "presence members of %v", server)
	}

	list := dedupe(players)
	keep := make(map[string]struct{}, len(list))
	for _, p := range list {
		keep[strings.ToLower(p)] = struct{}{}
	}

	var candidates []string
	for _, p := range old {
		if _, ok := keep[strings.ToLower(p)]; !ok {
			candidates = append(candidates, strings.ToLower(p))
		}
	}

	// a player that already moved on is indexed under the new server
	var gone []string
	if len(candidates) > 0 {
		owners, err := s.rdb.HMGet(ctx, s.indexKey(), candidates...).Result()
		if err != nil {
			return errors.Wrapf(err, "presence index of %v", server)
		}
		for i, owner := range owners {
			if owner == server {
				gone = append(gone, candidates[i])
			}
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.playersKey(server))
		if len(gone) > 0 {
			pipe.HDel(ctx, s.indexKey(), gone...)
		}
		if len(list) == 0 {
			pipe.SRem(ctx, s.serversKey(), server)
			return nil
		}

		members := make([]interface{}, 0, len(list))
		fields := make([]interface{}, 0, 2*len(list))
		for _, p := range list {
			members = append(members, p)
			fields = append(fields, strings.ToLower(p), server)
		}
		pipe.SAdd(ctx, s.playersKey(server), members...)
		pipe.HSet(ctx, s.indexKey(), fields...)
		pipe.SAdd(ctx, s.serversKey(), server)
		return nil
	})
	return errors.Wrapf(err, "presence set %v", server)
}

func (s *redisStore) RemoveServer(ctx context.Context, server string) error {
	return s.SetPlayers(ctx, server, nil)
}

func (s *redisStore) ServerFor(ctx context.Context, player string) (string, bool, error) {
	server, err := s.rdb.HGet(ctx, s.indexKey(), strings.ToLower(player)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "presence lookup %v", player)
	}
	return server, true, nil
}

func (s *redisStore) Snapshot(ctx context.Context) (map[string][]string, error) {
	servers, err := s.rdb.SMembers(ctx, s.serversKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence servers")
	}

	ret := make(map[string][]string, len(servers))
	for _, server := range servers {
		players, err := s.rdb.SMembers(ctx, s.playersKey(server)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "presence members of %v", server)
		}
		if len(players) == 0 {
			continue
		}
		sort.Strings(players)
		ret[server] = players
	}
	return ret, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
