// Package ratelimit is per-client-IP token bucket limiting for the public
// listener. It runs in front of the request pipeline so a flooding client
// never reaches the session store.
//
// State is in memory and per instance. Idle clients are evicted after a TTL
// and the number of tracked clients is capped; once the cap is reached new
// clients are refused until eviction frees room.
package ratelimit
