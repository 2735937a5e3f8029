// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package perlssh

import "expvar"

// A clientCounters records client activity counters.
type clientCounters struct {
	frameRecv     expvar.Int
	frameSent     expvar.Int
	frameDropped  expvar.Int // frames with unrecognized tags
	callOut       expvar.Int // number of calls initiated
	callOutErr    expvar.Int // number of calls reporting an error
	callPending   expvar.Int // calls awaiting a response (gauge)
	callAbandoned expvar.Int // calls abandoned by context cancellation
	lateResponses expvar.Int // responses with no pending call
	remoteDied    expvar.Int // DIED responses received
	storesOK      expvar.Int // stores acknowledged with OK

	emap *expvar.Map
}

var clientMetrics = newClientMetrics()

func newClientMetrics() *clientCounters {
	cm := &clientCounters{emap: new(expvar.Map)}
	cm.emap.Set("frames_received", &cm.frameRecv)
	cm.emap.Set("frames_sent", &cm.frameSent)
	cm.emap.Set("frames_dropped", &cm.frameDropped)
	cm.emap.Set("calls_out", &cm.callOut)
	cm.emap.Set("calls_out_failed", &cm.callOutErr)
	cm.emap.Set("calls_pending", &cm.callPending)
	cm.emap.Set("calls_abandoned", &cm.callAbandoned)
	cm.emap.Set("late_responses", &cm.lateResponses)
	cm.emap.Set("remote_died", &cm.remoteDied)
	cm.emap.Set("stores_ok", &cm.storesOK)
	return cm
}

// Metrics returns a metrics map for the client. It is safe for the caller to
// add additional metrics to the map while the client is active. Metrics are
// shared globally among all clients.
func (c *Client) Metrics() *expvar.Map { return clientMetrics.emap }
