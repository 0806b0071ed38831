package transport

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
)

// monitorHTML is a minimal page that subscribes to the monitor event stream
// and appends each packet as a line; just enough to watch traffic live
// without a separate static-asset pipeline.
const monitorHTML = `<!DOCTYPE html>
<html><head><title>duskproto monitor</title></head>
<body>
<pre id="log"></pre>
<script>
var log = document.getElementById("log");
var es = new EventSource(location.href + (location.search ? "&" : "?") + "sse");
es.addEventListener("init", function(e) { log.textContent += "listening on " + e.data + "\n"; });
es.addEventListener("packet", function(e) {
	var p = JSON.parse(e.data);
	log.textContent += (p.in ? "<< " : ">> ") + p.remote + " " + p.desc + "\n" + p.data + "\n";
});
</script>
</body></html>
`

// DebugMonitorHandler returns an HTTP handler serving a page that streams
// every framed datagram l sees, in both directions, as server-sent events.
// Adapted from the teacher's pkg/nspkt.DebugMonitorHandler.
func DebugMonitorHandler(l *Listener) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-cache, no-store")
		w.Header().Set("Expires", "0")
		w.Header().Set("Pragma", "no-cache")

		if r.URL.RawQuery != "sse" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, monitorHTML)
			return
		}

		f, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "cannot stream events", http.StatusInternalServerError)
			return
		}

		c := make(chan MonitorPacket, 16)
		go l.Monitor(r.Context(), c)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: init\ndata: duskproto listener\n\n")
		f.Flush()

		e := json.NewEncoder(w)
		for p := range c {
			io.WriteString(w, "event: packet\ndata: ")
			e.Encode(map[string]any{
				"in":     p.In,
				"remote": p.Remote.String(),
				"desc":   p.Option,
				"data":   hex.Dump(p.Data),
			})
			io.WriteString(w, "\n")
			f.Flush()
		}
	})
}
