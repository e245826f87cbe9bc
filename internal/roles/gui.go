package roles

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

type guiTesting struct {
	deps Deps
}

func newGUITesting(d Deps) worker.Behavior { return &guiTesting{deps: d} }

func (g *guiTesting) Interval() time.Duration { return 30 * time.Second }

func (g *guiTesting) Handle(ctx context.Context, task model.Task) error {
	return runTaskScript(ctx, g.deps, task)
}

// Idle counts `*gui*.py` files in the base directory.
func (g *guiTesting) Idle(context.Context) error {
	entries, err := os.ReadDir(g.deps.BaseDir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", g.deps.BaseDir, err)
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, ".py") && strings.Contains(strings.ToLower(name), "gui") {
			n++
		}
	}
	if n > 0 {
		g.deps.Logger.Info("found GUI files to potentially test", "count", n)
	}
	return nil
}
