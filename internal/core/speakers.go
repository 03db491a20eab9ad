package core

import (
	"slices"

	"github.com/dkeye/Conference/internal/metrics"
	"github.com/sourcegraph/conc"
)

// moveToFront ranks by recency of dominance: pid goes to index 0 whether
// or not it was already ranked.
func moveToFront(list []string, pid string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, pid)
	for _, id := range list {
		if id != pid {
			out = append(out, id)
		}
	}
	return out
}

func splitActive(list []string, k int) (active, muted []string) {
	n := min(k, len(list))
	return list[:n], list[n:]
}

// recomputeLocked pauses everything outside the top K, resumes everything
// inside it, pushes the new top K to every client and tells each client
// which active producers it has nothing for yet. Calling it again with an
// unchanged ranking repeats the same idempotent pause/resume calls.
func (r *Room) recomputeLocked() map[SessionID][]string {
	active, muted := splitActive(r.speakers, r.maxActive)
	needed := make(map[SessionID][]string)

	for _, c := range r.clients {
		for _, pid := range muted {
			if c.ownsAudioLocked(pid) {
				c.pauseProducersLocked()
				continue
			}
			if dt := c.downstreamByAudioLocked(pid); dt != nil {
				dt.pauseLocked()
			}
		}
		for _, pid := range active {
			if c.ownsAudioLocked(pid) {
				c.resumeProducersLocked()
				continue
			}
			if dt := c.downstreamByAudioLocked(pid); dt != nil {
				dt.resumeLocked()
				continue
			}
			needed[c.id] = append(needed[c.id], pid)
		}
	}

	top := slices.Clone(active)
	for _, c := range r.clients {
		r.notify.ActiveSpeakers(c.id, top)
	}
	if len(needed) > 0 {
		caps := r.router.RtpCapabilities()
		for _, c := range r.clients {
			pids, ok := needed[c.id]
			if !ok {
				continue
			}
			r.notify.ProducersToConsume(c.id, ProducersToConsume{
				RouterRtpCapabilities: caps,
				Targets:               r.targetsLocked(pids),
				ActiveSpeakers:        top,
			})
		}
	}

	metrics.Recomputes.Inc()
	r.logger.Debug().Strs("active", active).Strs("muted", muted).Int("clients_needing", len(needed)).Msg("recompute")
	return needed
}

func closeDownstreams(dts []*DownstreamTransport) {
	if len(dts) == 0 {
		return
	}
	var wg conc.WaitGroup
	for _, dt := range dts {
		wg.Go(dt.close)
	}
	wg.Wait()
}
