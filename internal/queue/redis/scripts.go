package redis

import goredis "github.com/redis/go-redis/v9"

// KEYS: wait, job. ARGV: id, data, max_attempts, backoff_ms, keep_completed, keep_failed.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('HSET', KEYS[2], 'data', ARGV[2], 'attempts', 0, 'max_attempts', ARGV[3],
	'backoff_ms', ARGV[4], 'keep_completed', ARGV[5], 'keep_failed', ARGV[6])
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// KEYS: wait, delayed, active, failed, stalled. ARGV: now_ms, visibility_ms, job key prefix.
// Due retries and expired reservations are moved back to wait before popping. A job
// whose reservation expired on its last attempt is settled here and its data is
// pushed to stalled for the consumer to record.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
for _, set in ipairs({KEYS[2], KEYS[3]}) do
	local due = redis.call('ZRANGEBYSCORE', set, '-inf', now)
	for _, id in ipairs(due) do
		redis.call('ZREM', set, id)
		redis.call('RPUSH', KEYS[1], id)
	end
end
while true do
	local id = redis.call('LPOP', KEYS[1])
	if not id then
		return false
	end
	local jobKey = ARGV[3] .. id
	if redis.call('EXISTS', jobKey) == 1 then
		local attempts = redis.call('HINCRBY', jobKey, 'attempts', 1)
		local f = redis.call('HMGET', jobKey, 'data', 'max_attempts', 'keep_failed')
		local maxAttempts = tonumber(f[2]) or 1
		if attempts <= maxAttempts then
			redis.call('ZADD', KEYS[3], now + tonumber(ARGV[2]), id)
			return {id, f[1], attempts, maxAttempts}
		end
		local keep = tonumber(f[3]) or 0
		if keep > 0 then
			redis.call('LPUSH', KEYS[4], id)
			redis.call('LTRIM', KEYS[4], 0, keep - 1)
		end
		redis.call('RPUSH', KEYS[5], f[1])
		redis.call('DEL', jobKey)
	end
end
`)

// KEYS: active, completed, job. ARGV: id.
var ackScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 and redis.call('EXISTS', KEYS[3]) == 0 then
	return 0
end
local keep = tonumber(redis.call('HGET', KEYS[3], 'keep_completed')) or 0
if keep > 0 then
	redis.call('LPUSH', KEYS[2], ARGV[1])
	redis.call('LTRIM', KEYS[2], 0, keep - 1)
end
redis.call('DEL', KEYS[3])
return 1
`)

// KEYS: active, delayed, failed, job. ARGV: id, now_ms, error.
// Returns 1 when the job is settled as failed, 0 when a retry is scheduled, -1 when unknown.
var failScript = goredis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('EXISTS', KEYS[4]) == 0 then
	return -1
end
local f = redis.call('HMGET', KEYS[4], 'attempts', 'max_attempts', 'backoff_ms', 'keep_failed')
local attempts = tonumber(f[1]) or 0
local maxAttempts = tonumber(f[2]) or 1
local backoff = tonumber(f[3]) or 0
local keep = tonumber(f[4]) or 0
redis.call('HSET', KEYS[4], 'last_error', ARGV[3])
if attempts >= maxAttempts then
	if keep > 0 then
		redis.call('LPUSH', KEYS[3], ARGV[1])
		redis.call('LTRIM', KEYS[3], 0, keep - 1)
	end
	redis.call('DEL', KEYS[4])
	return 1
end
local delay = backoff * (2 ^ math.max(attempts - 1, 0))
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]) + math.floor(delay), ARGV[1])
return 0
`)
