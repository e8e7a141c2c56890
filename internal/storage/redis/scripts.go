package redis

// Scripts return a status string rather than an error reply so callers can
// map each outcome to a storage sentinel.
const (
	statusOK        = "OK"
	statusBusy      = "BUSY"
	statusExists    = "EXISTS"
	statusNotFound  = "NOT_FOUND"
	statusNotActive = "NOT_ACTIVE"
	statusConflict  = "CONFLICT"
	statusMismatch  = "MISMATCH"
)

const (
	// createSessionScript stores a new active session and claims its console
	createSessionScript = `
local session_key = KEYS[1]     -- gamestore:session:{sessionID}
local active_set = KEYS[2]      -- gamestore:sessions:active
local console_lock = KEYS[3]    -- gamestore:console:{consoleID}:session

local session_id = ARGV[1]

if redis.call('EXISTS', session_key) == 1 then
  return 'EXISTS'
end

-- A console holds at most one active session
if redis.call('EXISTS', console_lock) == 1 then
  return 'BUSY'
end

redis.call('HSET', session_key, unpack(ARGV, 2))
redis.call('SADD', active_set, session_id)
redis.call('SET', console_lock, session_id)

return 'OK'
`

	// incrementSessionScript increments a counter field of an active session
	incrementSessionScript = `
local session_key = KEYS[1]     -- gamestore:session:{sessionID}

local field = ARGV[1]
local delta = tonumber(ARGV[2])

local status = redis.call('HGET', session_key, 'status')
if not status then
  return 'NOT_FOUND'
end
if status ~= 'active' then
  return 'NOT_ACTIVE'
end

redis.call('HINCRBY', session_key, field, delta)

return 'OK'
`

	// finalizeSessionScript writes the settled state of an active session,
	// moves it to the ended index and releases its console
	finalizeSessionScript = `
local session_key = KEYS[1]     -- gamestore:session:{sessionID}
local active_set = KEYS[2]      -- gamestore:sessions:active
local ended_index = KEYS[3]     -- gamestore:sessions:ended
local console_lock = KEYS[4]    -- gamestore:console:{consoleID}:session

local session_id = ARGV[1]
local ended_ms = ARGV[2]

local status = redis.call('HGET', session_key, 'status')
if not status then
  return 'NOT_FOUND'
end
if status ~= 'active' then
  return 'NOT_ACTIVE'
end

redis.call('HSET', session_key, unpack(ARGV, 3))
redis.call('SREM', active_set, session_id)
redis.call('ZADD', ended_index, ended_ms, session_id)

-- Only release the console if this session still owns it
if redis.call('GET', console_lock) == session_id then
  redis.call('DEL', console_lock)
end

return 'OK'
`

	// appendLedgerEntryScript appends a ledger entry only if the client's
	// head is still the entry the caller read, and the new balance follows
	// from the head balance
	appendLedgerEntryScript = `
local head_key = KEYS[1]        -- gamestore:ledger:client:{clientID}:head
local client_list = KEYS[2]     -- gamestore:ledger:client:{clientID}
local entry_key = KEYS[3]       -- gamestore:ledger:entry:{entryID}
local timeline = KEYS[4]        -- gamestore:ledger:timeline
local ref_key = KEYS[5]         -- gamestore:ledger:ref:{type}:{id}

local expected_head = ARGV[1]
local entry_id = ARGV[2]
local payload = ARGV[3]
local created_ms = ARGV[4]
local amount = tonumber(ARGV[5])
local balance_after = tonumber(ARGV[6])

local head_id = redis.call('HGET', head_key, 'id') or ''
if head_id ~= expected_head then
  return 'CONFLICT'
end

local head_balance = tonumber(redis.call('HGET', head_key, 'balance') or '0')
if balance_after ~= head_balance + amount or balance_after < 0 then
  return 'MISMATCH'
end

redis.call('SET', entry_key, payload)
redis.call('RPUSH', client_list, entry_id)
redis.call('HSET', head_key, 'id', entry_id, 'balance', balance_after)
redis.call('ZADD', timeline, created_ms, entry_id)
redis.call('SADD', ref_key, entry_id)

return 'OK'
`

	// reserveUnitsScript adds to a client's lifetime unit counter and
	// returns the new value, so concurrent closes each see a distinct base
	reserveUnitsScript = `
local client_key = KEYS[1]      -- gamestore:client:{clientID}

if redis.call('EXISTS', client_key) == 0 then
  return 'NOT_FOUND'
end

return redis.call('HINCRBY', client_key, 'lifetime_units', ARGV[1])
`
)
