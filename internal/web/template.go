package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/button-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateClass": func(s string) string {
		switch s {
		case "PRESSED":
			return "pressed"
		case "RELEASED":
			return "released"
		}
		return "unknown"
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Button Monitor</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.pressed { color: green; font-weight: bold; }
.released { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Button Monitor</h1>

<h2>Buttons</h2>
{{if .Buttons}}
<table>
<tr><th>Name</th><th>Pin</th><th>State</th><th>Presses</th><th>Releases</th><th>Last event</th><th>Failures</th></tr>
{{range .Buttons}}{{$st := stateOrUnknown (printf "%s" .State)}}
<tr>
<td>{{.Name}}{{if not .Enabled}} (stopped){{end}}</td>
<td>{{.Pin}}</td>
<td class="{{stateClass $st}}">{{$st}}</td>
<td>{{.Counts.Press}}</td>
<td>{{.Counts.Release}}</td>
<td>{{if .LastEvent}}{{.LastEvent}} {{.LastEventAt.UTC.Format "15:04:05"}}{{else}}-{{end}}</td>
<td>{{.CallbackFailures}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No buttons configured.</p>
{{end}}

<h2>Wiring</h2>
<table>
<tr><th>Name</th><th>Pull</th><th>Active</th><th>Debounce</th><th>Dispatch</th></tr>
{{range .Buttons}}
<tr><td>{{.Name}}</td><td>{{.Pull}}</td><td>{{if .ActiveLow}}low{{else}}high{{end}}</td><td>{{.DebounceMs}}ms</td><td>{{.Dispatch}}</td></tr>
{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Chip</th><td>{{.Config.Chip}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
