// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package pubsub

import (
	"sync"

	"golang.org/x/time/rate"
)

// warnThrottle rate-limits repeated degradation-callback warning log
// lines per subscriber, so a subscriber stuck in a corrupted or
// unreachable state cannot turn every Send into a log line.
type warnThrottle struct {
	mu       sync.Mutex
	limiters map[SubscriberID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newWarnThrottle allows warnings for each subscriber at the rate
// perSubscriber (events per second), with a small burst so the first
// few occurrences are still visible immediately.
func newWarnThrottle(perSubscriber rate.Limit, burst int) *warnThrottle {
	return &warnThrottle{
		limiters: make(map[SubscriberID]*rate.Limiter),
		limit:    perSubscriber,
		burst:    burst,
	}
}

// Allow reports whether a warning about subscriber should be logged
// now.
func (t *warnThrottle) Allow(subscriber SubscriberID) bool {
	t.mu.Lock()
	l, ok := t.limiters[subscriber]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[subscriber] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

// defaultWarnThrottle is shared by every Publisher in the process: one
// warning per subscriber per second, bursting to 3, is enough to
// notice a stuck subscriber without flooding the log.
var defaultWarnThrottle = newWarnThrottle(rate.Limit(1), 3)
