package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mj1618/smartscript/internal/annotate"
	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/script"
)

// saveArtifacts writes the last snapshot and an annotated screenshot for a
// failed step. Artifact errors are logged, never returned.
func (r *runner) saveArtifacts(in *script.Instruction) {
	if !r.cfg.ScreenshotOnFail || r.cfg.ArtifactsDir == "" {
		return
	}
	name := fmt.Sprintf("%s-%s", r.run.ID, in.ID())

	if snap := r.ec.Snapshot; snap != nil {
		path, err := model.SaveSnapshot(r.cfg.ArtifactsDir, name, snap)
		if err != nil {
			r.logger.Warn("save failure snapshot", "step", in.ID(), "error", err)
		} else {
			r.addArtifact(in, path)
		}
	}

	if r.p.Screenshotter == nil || r.fatal {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.cfg.defaultTimeout())
	defer cancel()
	data, err := r.p.Screenshotter.CaptureScreenshot(ctx)
	if err != nil {
		r.logger.Warn("capture failure screenshot", "step", in.ID(), "error", err)
		return
	}
	var screen [2]int
	screen[0], screen[1] = r.ec.Snapshot.ScreenSize()
	if screen[0] > 0 && screen[1] > 0 {
		if out, err := annotate.PNG(data, annotate.BoxesFromMatches(r.ec.lastMatches), screen, annotate.LabelText); err == nil {
			data = out
		} else {
			r.logger.Warn("annotate failure screenshot", "step", in.ID(), "error", err)
		}
	}
	if err := os.MkdirAll(r.cfg.ArtifactsDir, 0o755); err != nil {
		r.logger.Warn("create artifacts dir", "error", err)
		return
	}
	path := filepath.Join(r.cfg.ArtifactsDir, sanitize(name)+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Warn("write failure screenshot", "step", in.ID(), "error", err)
		return
	}
	r.addArtifact(in, path)
}

func (r *runner) addArtifact(in *script.Instruction, path string) {
	r.artifacts = append(r.artifacts, path)
	r.ec.record(in, "", OutcomeInfo, 0, "artifact "+path)
}

func sanitize(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch c {
		case '/', '\\', ' ', ':':
			out[i] = '_'
		}
	}
	return string(out)
}
