package rpc

import (
	"time"

	"github.com/corralhq/corral/internal/corerr"
	"github.com/corralhq/corral/internal/logsink"
)

// dispatchLogs serves MethodLogs. With Since or Until set it returns the
// time-ranged entries; otherwise it tails from TailOffset, per spec.md
// §6's logs call.
func (s *Server) dispatchLogs(req *Request) Response {
	path := logsink.Path(s.logsRoot, req.ID)

	if req.Since != nil || req.Until != nil {
		since, until := optTime(req.Since), optTime(req.Until)
		entries, err := logsink.RangeByTime(path, since, until)
		if err != nil {
			return errResponse(corerr.Wrap(corerr.IO, err, "read log range"))
		}
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = e.Text
		}
		return Response{OK: true, LogLines: lines}
	}

	lines, offset, err := logsink.Tail(path, req.TailOffset)
	if err != nil {
		return errResponse(corerr.Wrap(corerr.IO, err, "tail log"))
	}
	return Response{OK: true, LogLines: lines, LogOffset: offset}
}

func optTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
