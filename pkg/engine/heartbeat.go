package engine

import "time"

// heartbeatTag is the publication tag for the periodic heartbeat event
// (spec.md §6 "Publication schema": heartbeat tag publishes
// {timestamp, actions: [names]}").
const heartbeatTag = "heartbeat"

// maybePublishHeartbeat implements spec.md §4.7 step 5.f: once per
// heartbeat_interval, publish the timestamp and the names of every action
// whose last_heartbeat is newer than the previous publish (spec.md §9
// "Heartbeat aggregation" — resolved there as "every action whose
// last_heartbeat_epoch > previous_publish_time, recomputed each publish").
func (e *Engine) maybePublishHeartbeat() {
	interval := e.cfg.Globals.HeartbeatInterval
	if time.Since(e.lastHeartbeat) < interval {
		return
	}

	since := e.lastHeartbeat
	var active []string
	for _, h := range e.manager.Handlers() {
		if h.LastHeartbeat().After(since) {
			active = append(active, h.ActionName())
		}
	}

	body := map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"actions":   active,
	}
	if err := e.publisher.Publish(heartbeatTag, body); err != nil {
		e.log.Error(err, "heartbeat publish failed")
	}
	e.lastHeartbeat = time.Now()
}
