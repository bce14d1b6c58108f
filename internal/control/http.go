package control

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/clocknet/internal/telemetry"
	"github.com/ryandielhenn/clocknet/pkg/agent"
	"github.com/ryandielhenn/clocknet/pkg/events"
	"github.com/ryandielhenn/clocknet/pkg/protocol"
	"github.com/ryandielhenn/clocknet/pkg/wire"
)

const (
	addAgentPrefix = "addAgentByPort"
	defaultEvents  = 50
)

// Panel serves the HTML control page and the JSON API.
type Panel struct {
	reg     *Registry
	journal *events.Journal
	level   *LogLevel
	log     *zap.Logger
	started time.Time
}

// NewPanel wires a panel; journal and level may be nil.
func NewPanel(reg *Registry, journal *events.Journal, level *LogLevel, log *zap.Logger) *Panel {
	if log == nil {
		log = zap.NewNop()
	}
	if level == nil {
		level = NewLogLevel(true)
	}
	return &Panel{reg: reg, journal: journal, level: level, log: log.Named("panel"), started: time.Now()}
}

// Handler returns the panel routes, each instrumented under its own op.
func (p *Panel) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, op string, h http.HandlerFunc) {
		mux.Handle(pattern, telemetry.Instrument(op, h))
	}
	route("GET /{$}", "panel", p.index)
	route("GET /healthz", "healthz", p.healthz)
	route("GET /info", "info", p.info)
	route("GET /events", "events", p.events)
	route("POST /agents", "add_agent", p.addAgent)
	route("POST /agents/{id}/sync", "sync", p.sync)
	route("DELETE /agents/{id}", "remove", p.remove)
	route("POST /logs/toggle", "toggle_logs", p.toggle)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	return mux
}

func (p *Panel) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type infoResponse struct {
	PID     int         `json:"pid"`
	Now     time.Time   `json:"now"`
	Uptime  string      `json:"uptime"`
	Verbose bool        `json:"verbose"`
	Agents  []AgentInfo `json:"agents"`
}

func (p *Panel) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		PID:     os.Getpid(),
		Now:     time.Now(),
		Uptime:  time.Since(p.started).Round(time.Second).String(),
		Verbose: p.level.Verbose(),
		Agents:  p.reg.List(),
	})
}

func (p *Panel) events(w http.ResponseWriter, r *http.Request) {
	if p.journal == nil {
		http.Error(w, "activity journal disabled", http.StatusNotFound)
		return
	}
	n := defaultEvents
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = v
	}
	lines := p.journal.Lines(r.URL.Query().Get("agent"), n)
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

type addAgentRequest struct {
	Seed           int64 `json:"seed"`
	IntroducerPort int   `json:"introducer_port"`
}

func (p *Panel) addAgent(w http.ResponseWriter, r *http.Request) {
	var req addAgentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	var (
		a   *agent.Agent
		err error
	)
	if req.IntroducerPort == 0 {
		a, err = p.reg.AddFirst(r.Context())
	} else {
		a, err = p.reg.AddJoining(r.Context(), req.Seed, req.IntroducerPort)
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, infoOf(a))
}

func (p *Panel) sync(w http.ResponseWriter, r *http.Request) {
	if err := p.reg.Sync(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Panel) remove(w http.ResponseWriter, r *http.Request) {
	if err := p.reg.Remove(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Panel) toggle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"verbose": p.level.Toggle()})
}

// index runs the action encoded in the query, if any, and renders the page.
// Failed actions still render the page, with the error on top.
func (p *Panel) index(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	var message string
	if err := p.runQuery(r.Context(), r); err != nil {
		status = statusFor(err)
		message = err.Error()
		p.log.Warn("panel action failed", zap.String("query", r.URL.RawQuery), zap.Error(err))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, pageData{Error: message, Verbose: p.level.Verbose(), Agents: p.reg.List()}); err != nil {
		p.log.Error("render panel", zap.Error(err))
	}
}

var errBadQuery = errors.New("control: bad request")

func (p *Panel) runQuery(ctx context.Context, r *http.Request) error {
	q := r.URL.Query()
	if flag := q.Get("flag"); flag != "" {
		id := flag[min(len(flag), wire.FlagWidth):]
		switch {
		case strings.HasPrefix(flag, string(wire.FlagSyn)):
			p.log.Info("sending SYN", zap.String("agent", id))
			return p.reg.Sync(ctx, id)
		case strings.HasPrefix(flag, string(wire.FlagDel)):
			p.log.Info("deleting agent", zap.String("agent", id))
			return p.reg.Remove(ctx, id)
		}
		return errBadQuery
	}

	action := q.Get("agentAction")
	switch {
	case action == "":
		return nil
	case action == "addFirstAgent":
		_, err := p.reg.AddFirst(ctx)
		return err
	case action == "toggle":
		p.log.Warn("toggled logs", zap.Bool("verbose", p.level.Toggle()))
		return nil
	case strings.HasPrefix(action, addAgentPrefix):
		timer := q.Get("timerValue")
		if timer == "" {
			// Counter value not set.
			return nil
		}
		seed, err := strconv.ParseInt(timer, 10, 64)
		if err != nil {
			return errBadQuery
		}
		_, portStr, err := net.SplitHostPort(strings.TrimPrefix(action, addAgentPrefix))
		if err != nil {
			return errBadQuery
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return errBadQuery
		}
		p.log.Info("adding agent", zap.Int("introducer_port", port), zap.Int64("seed", seed))
		_, err = p.reg.AddJoining(ctx, seed, port)
		return err
	}
	return errBadQuery
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownAgent):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyBootstrapped):
		return http.StatusConflict
	case errors.Is(err, errBadQuery):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrPeerUnreachable), errors.Is(err, wire.ErrUnexpectedReply):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type pageData struct {
	Error   string
	Verbose bool
	Agents  []AgentInfo
}

var pageTemplate = template.Must(template.New("panel").Parse(`<!DOCTYPE html>
<html>
<head><title>Network of counters</title></head>
<body>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
<form action="" method="get">
  <button type="submit">REFRESH</button>
  <button type="submit" name="agentAction" value="toggle">TOGGLE LOGS</button>
  <span>logs: {{if .Verbose}}on{{else}}off{{end}}</span>
</form>
<form action="" method="get">
  <label>Add the first agent of the network</label>
  <button type="submit" name="agentAction" value="addFirstAgent">ADD AGENT</button>
</form>
<table>
{{range .Agents}}
<tr><td>
  <form action="" method="get">
    Agent: {{.ID}} || Counter: {{.Clock}} || Members: {{len .Members}} || {{.State}}
    <button type="submit" name="flag" value="SYN{{.ID}}">SEND SYN</button>
    <button type="submit" name="flag" value="DEL{{.ID}}">SEND DEL</button>
  </form>
  <form action="" method="get">
    <label>New agent joining through {{.ID}}. Counter:</label>
    <input type="number" min="0" max="1000000000" name="timerValue">
    <button type="submit" name="agentAction" value="addAgentByPort{{.ID}}">ADD AGENT</button>
  </form>
</td></tr>
{{end}}
</table>
</body>
</html>
`))
