// Package task defines the closed set of deferred work items the crawler
// executes on its worker pool, their wire encoding, and the adapter that
// turns DHT engine follow-ups into submissions.
//
// Tasks travel between the front-end and workers as a msgpack envelope
// {kind, payload}:
//
//	data, err := task.Marshal(&task.GetPeers{InfoHash: ih})
//	t, err := task.Unmarshal(data)
//	err = t.Run(ctx, env)
package task
