package imagews

import (
	"context"
	"sort"
)

// Result is one output slot of an aggregated generation: a frame or an
// explicit error placeholder. Missing images never fail the whole
// request.
type Result struct {
	Frame *Frame
	Err   *SessionError
}

// Generate runs sessions in batches until n distinct final images are
// collected or the session budget runs out, then returns exactly n
// results ranked best-first.
//
// Frames are keyed by image ID and only the best frame per id is kept:
// final beats non-final, larger beats smaller.
func (a *Adapter) Generate(ctx context.Context, cookie string, p Params) []Result {
	batch := a.cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}

	// Allow one retry's worth of extra sessions for partial yields.
	maxSessions := 2 * ((p.N + batch - 1) / batch)
	if maxSessions < 1 {
		maxSessions = 1
	}

	best := map[string]Frame{}
	finals := 0

	for session := 0; session < maxSessions && finals < p.N && ctx.Err() == nil; session++ {
		want := p.N - finals
		if want > batch {
			want = batch
		}

		sp := p
		sp.N = want
		for ev := range a.Stream(ctx, cookie, sp) {
			if ev.Err != nil {
				a.logger.Warn("generation session ended with error",
					"code", ev.Err.Code,
					"error", ev.Err.Message,
				)
				break
			}
			frame := *ev.Frame
			prev, seen := best[frame.ImageID]
			if !seen || better(frame, prev) {
				if frame.IsFinal && (!seen || !prev.IsFinal) {
					finals++
				}
				best[frame.ImageID] = frame
			}
		}
	}

	ranked := make([]Frame, 0, len(best))
	for _, f := range best {
		ranked = append(ranked, f)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })

	out := make([]Result, 0, p.N)
	for i := 0; i < p.N; i++ {
		if i < len(ranked) {
			f := ranked[i]
			out = append(out, Result{Frame: &f})
			continue
		}
		out = append(out, Result{Err: &SessionError{
			Code:    "image_generation_failed",
			Message: "upstream yielded fewer images than requested",
		}})
	}
	return out
}
