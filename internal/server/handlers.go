package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/mj1618/smartscript/internal/engine"
	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/page"
	"github.com/mj1618/smartscript/internal/script"
)

// toText serializes a tool response to YAML.
func toText(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(b)
}

// runStatus is the run_status and asynchronous run_script response.
type runStatus struct {
	RunID   string            `yaml:"run_id"           json:"run_id"`
	State   engine.State      `yaml:"state"            json:"state"`
	Entries int               `yaml:"entries"          json:"entries"`
	Last    *engine.LogEntry  `yaml:"last,omitempty"   json:"last,omitempty"`
	Result  *engine.Result    `yaml:"result,omitempty" json:"result,omitempty"`
	Log     []engine.LogEntry `yaml:"log,omitempty"    json:"log,omitempty"`
}

// matchInfo is one find_element match.
type matchInfo struct {
	ID          int     `yaml:"id"                    json:"id"`
	Text        string  `yaml:"text,omitempty"        json:"text,omitempty"`
	ResourceID  string  `yaml:"resource_id,omitempty" json:"resource_id,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Class       string  `yaml:"class,omitempty"       json:"class,omitempty"`
	Ref         string  `yaml:"ref,omitempty"         json:"ref,omitempty"`
	Bounds      [4]int  `yaml:"bounds,flow"           json:"bounds"`
	Center      [2]int  `yaml:"center,flow"           json:"center"`
	Clickable   bool    `yaml:"clickable"             json:"clickable"`
	Score       float64 `yaml:"score"                 json:"score"`
	Reason      string  `yaml:"reason,omitempty"      json:"reason,omitempty"`
}

// pageInfo is the recognize_page response.
type pageInfo struct {
	State       model.PageState `yaml:"state"                  json:"state"`
	Confidence  float64         `yaml:"confidence,omitempty"   json:"confidence,omitempty"`
	KeyElements []string        `yaml:"key_elements,omitempty" json:"key_elements,omitempty"`
	Package     string          `yaml:"package,omitempty"      json:"package,omitempty"`
	Activity    string          `yaml:"activity,omitempty"     json:"activity,omitempty"`
	Elements    int             `yaml:"elements"               json:"elements"`
}

// recognizer is implemented by recognizers that report evidence.
type recognizer interface {
	Recognize(ctx context.Context, snap *model.Snapshot) (page.Recognition, error)
}

func (s *Server) executor(cfg engine.Config) (*engine.Executor, error) {
	opts := append([]engine.Option{engine.WithLogger(s.logger)}, s.engineOpts...)
	return engine.New(s.provider, cfg, opts...)
}

// busy reports a run that still owns the device. The caller holds providerMu.
func (s *Server) busy() error {
	if run, ok := s.runs.Active(); ok {
		return fmt.Errorf("run %s is still running; cancel it or wait for it to finish", run.ID)
	}
	return nil
}

// watch publishes the result of run once it ends.
func (s *Server) watch(run *engine.Run) {
	go func() {
		res := run.Wait()
		if s.hub != nil {
			s.hub.Finish(res)
		}
		s.logger.Info("run finished", "run_id", res.RunID, "state", res.State, "failed", res.FailedSteps)
	}()
}

func resultText(res *engine.Result, includeLog bool) *mcp.CallToolResult {
	out := *res
	if !includeLog {
		out.Log = nil
	}
	if !res.Success {
		return mcp.NewToolResultError(toText(out))
	}
	return mcp.NewToolResultText(toText(out))
}

func (s *Server) handleValidate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := script.Decode([]byte(stringParam(request.GetArguments(), "script", "")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report := script.Analyze(doc.Steps)
	if !report.Valid {
		return mcp.NewToolResultError(toText(report)), nil
	}
	return mcp.NewToolResultText(toText(report)), nil
}

func (s *Server) handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	doc, err := script.Decode([]byte(stringParam(params, "script", "")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cfg := s.base
	if err := doc.DecodeConfig(&cfg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := params["continue_on_error"]; ok {
		cfg.ContinueOnError = boolParam(params, "continue_on_error", cfg.ContinueOnError)
	}
	cfg.OverallTimeoutMS = intParam(params, "timeout_ms", cfg.OverallTimeoutMS)

	prog, err := doc.Program()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exec, err := s.executor(cfg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	wait := boolParam(params, "wait", true)
	runCtx := s.ctx
	if wait {
		runCtx = ctx
	}

	s.providerMu.Lock()
	if err := s.busy(); err != nil {
		s.providerMu.Unlock()
		return mcp.NewToolResultError(err.Error()), nil
	}
	run := exec.Start(runCtx, prog)
	s.runs.Add(run, prog.Name)
	s.providerMu.Unlock()
	s.watch(run)

	if !wait {
		return mcp.NewToolResultText(toText(runStatus{RunID: run.ID, State: run.State()})), nil
	}
	return resultText(run.Wait(), boolParam(params, "include_log", true)), nil
}

func (s *Server) handleRunStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	id := stringParam(params, "run_id", "")
	run, ok := s.runs.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found", id)), nil
	}

	history := run.History()
	status := runStatus{RunID: run.ID, State: run.State(), Entries: len(history)}
	if n := len(history); n > 0 {
		status.Last = &history[n-1]
	}
	if status.State.Terminal() {
		res := *run.Wait()
		res.Log = nil
		status.Result = &res
	}
	if boolParam(params, "include_log", false) {
		status.Log = history
	}
	return mcp.NewToolResultText(toText(status)), nil
}

func (s *Server) handleCancelRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringParam(request.GetArguments(), "run_id", "")
	run, ok := s.runs.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found", id)), nil
	}
	if run.State().Terminal() {
		return mcp.NewToolResultError(fmt.Sprintf("run %s already %s", run.ID, run.State())), nil
	}
	run.Cancel()
	return mcp.NewToolResultText(toText(runStatus{RunID: run.ID, State: run.State()})), nil
}

func (s *Server) handleListRuns(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(toText(s.runs.List())), nil
}

func (s *Server) handleRunStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var st script.Step
	if err := yaml.Unmarshal([]byte(stringParam(request.GetArguments(), "step", "")), &st); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid step: %v", err)), nil
	}
	exec, err := s.executor(s.base)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.providerMu.Lock()
	defer s.providerMu.Unlock()
	if err := s.busy(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := exec.RunStep(ctx, st)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return resultText(res, true), nil
}

func (s *Server) handleRecognizePage(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()
	if err := s.busy(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := s.provider.Device.CaptureSnapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info := pageInfo{Package: snap.Package, Activity: snap.Activity, Elements: len(snap.Flat())}
	if r, ok := s.provider.Recognizer.(recognizer); ok {
		rec, err := r.Recognize(ctx, snap)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		info.State, info.Confidence, info.KeyElements = rec.State, rec.Confidence, rec.KeyElements
	} else {
		state, err := s.provider.Recognizer.Classify(ctx, snap)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		info.State = state
	}
	return mcp.NewToolResultText(toText(info)), nil
}

func (s *Server) handleFindElement(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	method, err := model.ParseMatchMethod(stringParam(params, "method", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cond := model.FindCondition{
		Method:        method,
		Value:         stringParam(params, "value", ""),
		ClickableOnly: boolParam(params, "clickable_only", false),
	}
	if cond.Value == "" {
		return mcp.NewToolResultError("value is required"), nil
	}
	limit := intParam(params, "limit", 5)

	s.providerMu.Lock()
	defer s.providerMu.Unlock()
	if err := s.busy(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := s.provider.Device.CaptureSnapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches, err := s.provider.Matcher.Find(ctx, snap, cond)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("no element matches %s", cond)), nil
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]matchInfo, 0, len(matches))
	for _, m := range matches {
		el := m.Element
		cx, cy := el.Center()
		out = append(out, matchInfo{
			ID:          el.ID,
			Text:        el.Text,
			ResourceID:  el.ResourceID,
			Description: el.Description,
			Class:       el.Class,
			Ref:         el.Ref,
			Bounds:      el.Bounds,
			Center:      [2]int{cx, cy},
			Clickable:   el.Clickable,
			Score:       m.Score,
			Reason:      m.Reason,
		})
	}
	return mcp.NewToolResultText(toText(out)), nil
}
