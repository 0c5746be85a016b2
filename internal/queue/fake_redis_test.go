package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory stand-in for the subset of *redis.Client
// this package uses (redisZSetClient), so the queue logic above can be
// exercised without a live Redis server.
type fakeRedis struct {
	sets map[string]map[string]float64 // key -> member -> score
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string]map[string]float64)}
}

func (f *fakeRedis) set(key string) map[string]float64 {
	m, ok := f.sets[key]
	if !ok {
		m = make(map[string]float64)
		f.sets[key] = m
	}
	return m
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	m := f.set(key)
	var added int64
	for _, z := range members {
		member := z.Member.(string)
		if _, exists := m[member]; !exists {
			added++
		}
		m[member] = z.Score
	}
	cmd.SetVal(added)
	return cmd
}

func (f *fakeRedis) ZPopMin(ctx context.Context, key string, count ...int64) *redis.ZSliceCmd {
	cmd := redis.NewZSliceCmd(ctx)
	m := f.set(key)
	if len(m) == 0 {
		cmd.SetVal(nil)
		return cmd
	}

	type kv struct {
		member string
		score  float64
	}
	entries := make([]kv, 0, len(m))
	for member, score := range m {
		entries = append(entries, kv{member, score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })

	n := 1
	if len(count) > 0 {
		n = int(count[0])
	}
	if n > len(entries) {
		n = len(entries)
	}

	out := make([]redis.Z, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, redis.Z{Score: entries[i].score, Member: entries[i].member})
		delete(m, entries[i].member)
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	m := f.set(key)
	var removed int64
	for _, member := range members {
		s := member.(string)
		if _, ok := m[s]; ok {
			delete(m, s)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd {
	cmd := redis.NewZSliceCmd(ctx)
	m := f.set(key)

	var maxVal float64
	parseFloatOrInf(opt.Max, &maxVal)

	var out []redis.Z
	for member, score := range m {
		if score > maxVal {
			continue
		}
		out = append(out, redis.Z{Score: score, Member: member})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	m := f.set(key)
	type kv struct {
		member string
		score  float64
	}
	entries := make([]kv, 0, len(m))
	for member, score := range m {
		entries = append(entries, kv{member, score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.member)
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) ZCard(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.set(key))))
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var deleted int64
	for _, k := range keys {
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			deleted++
		}
	}
	cmd.SetVal(deleted)
	return cmd
}

// parseFloatOrInf handles the "-inf"/"+inf" bounds go-redis accepts for
// ZRangeByScore alongside plain numeric strings.
func parseFloatOrInf(s string, out *float64) (bool, error) {
	switch s {
	case "-inf":
		*out = -1 << 62
		return true, nil
	case "+inf":
		*out = 1 << 62
		return true, nil
	default:
		var f float64
		_, err := fmt.Sscan(s, &f)
		*out = f
		return err == nil, err
	}
}
