package bucket

// bucketScript atomically refills and consumes every band of a rule in a
// single invocation. Either all bands have enough tokens and all of them
// are debited, or the call is a pure read: no band's state is written.
//
// The server's TIME command is the only clock ever consulted; callers
// never supply "now".
//
// Keys:
//
//	KEYS[1..N]: one hash per band, fields "tokens" and "last_refill"
//
// Args:
//
//	ARGV[1]: N, number of bands
//	ARGV[2]: permits requested
//	then, repeated N times in the same order as KEYS:
//	  capacity, refillTokens, refillIntervalNanos, ttlSeconds
//
// Returns a flat array:
//
//	{allowed(0|1), nowNanos, consumed_1, remaining_1, waitNanos_1, resetNanos_1, ...}
//
// The allowed and consumed flags are integer replies; every other field is
// returned as a decimal-integer string formatted with %.0f, which Go parses
// with strconv.ParseInt (Lua's tostring would switch to exponent notation
// for values this large). Lua numbers are IEEE-754 doubles, so a
// nanosecond epoch timestamp, being past 2^53, is rounded inside the
// script to the nearest representable value, a step of a few hundred
// nanoseconds at current epoch values.
const bucketScript = `
local n = tonumber(ARGV[1])
local permits = tonumber(ARGV[2])

local time_parts = redis.call('TIME')
local now = tonumber(time_parts[1]) * 1000000000 + tonumber(time_parts[2]) * 1000

local new_tokens = {}
local new_last_refill = {}
local wait_nanos = {}
local capacities = {}
local ttls = {}
local all_ok = true

for i = 1, n do
    local base = 3 + (i - 1) * 4
    local capacity = tonumber(ARGV[base])
    local refill_tokens = tonumber(ARGV[base + 1])
    local refill_interval = tonumber(ARGV[base + 2])
    local ttl = tonumber(ARGV[base + 3])

    capacities[i] = capacity
    ttls[i] = ttl

    local key = KEYS[i]
    local tokens = tonumber(redis.call('HGET', key, 'tokens'))
    local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

    if tokens == nil then
        tokens = capacity
        last_refill = now
    end

    local elapsed = math.max(0, now - last_refill)
    local refill_amount = math.floor(elapsed * refill_tokens / refill_interval)
    local refreshed = tokens
    local advanced_refill = last_refill
    if refill_amount > 0 then
        refreshed = math.min(capacity, tokens + refill_amount)
        advanced_refill = last_refill + math.floor(refill_amount * refill_interval / refill_tokens)
    end

    new_tokens[i] = refreshed
    new_last_refill[i] = advanced_refill

    if refreshed < permits then
        all_ok = false
        local deficit = permits - refreshed
        wait_nanos[i] = math.ceil(deficit * refill_interval / refill_tokens)
    else
        wait_nanos[i] = 0
    end
end

local reply = {}
if all_ok then
    reply[1] = 1
else
    reply[1] = 0
end
reply[2] = string.format('%.0f', now)

for i = 1, n do
    local consumed = 0
    local remaining = new_tokens[i]
    if all_ok then
        remaining = new_tokens[i] - permits
        consumed = 1
        redis.call('HSET', KEYS[i], 'tokens', string.format('%.0f', remaining))
        redis.call('HSET', KEYS[i], 'last_refill', string.format('%.0f', new_last_refill[i]))
        redis.call('EXPIRE', KEYS[i], ttls[i])
    end

    local reset_nanos = now + wait_nanos[i]

    reply[#reply + 1] = consumed
    reply[#reply + 1] = string.format('%.0f', remaining)
    reply[#reply + 1] = string.format('%.0f', wait_nanos[i])
    reply[#reply + 1] = string.format('%.0f', reset_nanos)
end

return reply
`
