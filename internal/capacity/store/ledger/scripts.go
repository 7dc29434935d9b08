package ledger

import "github.com/redis/go-redis/v9"

// Each script runs as one atomic step against a single shift's keys:
//
//	KEYS[1] meta hash     {capacity, seq}
//	KEYS[2] holders hash  registration -> "1" confirmed | "0" reserved
//	KEYS[3] waitlist zset registration scored by arrival sequence
//
// A script returning -1 in its first slot means the shift was never defined.

var defineScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'capacity', ARGV[1], 'seq', 0)
return 1
`)

var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0, 0} end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then return {1, 0, 1} end
local rank = redis.call('ZRANK', KEYS[3], ARGV[1])
if rank then return {2, rank + 1, 1} end
local cap = tonumber(redis.call('HGET', KEYS[1], 'capacity'))
if redis.call('HLEN', KEYS[2]) < cap then
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
  return {1, 0, 0}
end
local seq = redis.call('HINCRBY', KEYS[1], 'seq', 1)
redis.call('ZADD', KEYS[3], seq, ARGV[1])
return {2, redis.call('ZCARD', KEYS[3]), 0}
`)

// promoteTail is shared by release and promote: move the waitlist head into a
// confirmed slot while one is free.
const promoteTail = `
local cap = tonumber(redis.call('HGET', KEYS[1], 'capacity'))
if redis.call('HLEN', KEYS[2]) < cap then
  local head = redis.call('ZRANGE', KEYS[3], 0, 0)
  if #head > 0 then
    redis.call('ZREM', KEYS[3], head[1])
    redis.call('HSET', KEYS[2], head[1], '1')
    return {1, head[1]}
  end
end
return {1, ''}
`

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, ''} end
if redis.call('HDEL', KEYS[2], ARGV[1]) == 0 then return {0, ''} end
` + promoteTail)

var promoteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, ''} end
` + promoteTail)

var withdrawScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('ZREM', KEYS[3], ARGV[1])
`)

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[2], ARGV[1], '1')
  return 1
end
local cap = tonumber(redis.call('HGET', KEYS[1], 'capacity'))
if redis.call('HLEN', KEYS[2]) >= cap then return 0 end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], '1')
return 1
`)

var markConfirmedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], ARGV[1], '1')
return 1
`)

var resizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
local cap = tonumber(ARGV[1])
local held = redis.call('HLEN', KEYS[2])
if cap < held then return {0} end
redis.call('HSET', KEYS[1], 'capacity', cap)
local out = {1}
while held < cap do
  local head = redis.call('ZRANGE', KEYS[3], 0, 0)
  if #head == 0 then break end
  redis.call('ZREM', KEYS[3], head[1])
  redis.call('HSET', KEYS[2], head[1], '1')
  held = held + 1
  table.insert(out, head[1])
end
return out
`)

var countsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0, 0, 0} end
local cap = tonumber(redis.call('HGET', KEYS[1], 'capacity'))
local vals = redis.call('HVALS', KEYS[2])
local confirmed = 0
for _, v in ipairs(vals) do
  if v == '1' then confirmed = confirmed + 1 end
end
return {cap, #vals, confirmed, redis.call('ZCARD', KEYS[3])}
`)
