package mediator

import (
	"context"
	"log/slog"
	"slices"

	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/perspective"
	"github.com/rand/mediate/internal/prompts"
)

// selectModules runs adaptive selection followed by the gap check. A failed
// or empty selection falls back to the static roster and a short one is
// topped up from it to MinSelected. A failed gap check keeps the selection.
func (m *Mediator) selectModules(ctx context.Context, logger *slog.Logger, problem string) ([]string, []model.AdHocModule, model.SelectionMetadata) {
	pool := perspective.PoolEntries()
	meta := model.SelectionMetadata{AutoSelected: true, AdHocModules: []model.AdHocModule{}}

	system, user := prompts.Selection(problem, pool)
	doc, err := m.svc.Analyze(ctx, system, user)

	var selected []string
	if err != nil {
		logger.Warn("module selection failed, using default roster", "error", err)
	} else {
		seen := make(map[string]bool)
		for _, name := range doc.Strings("selected_modules") {
			switch {
			case !perspective.IsKnown(name):
				logger.Warn("selection named an unknown module", "module", name)
				continue
			case seen[name]:
				continue
			}
			seen[name] = true
			selected = append(selected, name)
			if len(selected) == MaxSelected {
				break
			}
		}
		meta.SelectionReasoning = doc.String("reasoning")
	}

	switch {
	case len(selected) == 0:
		if err == nil {
			logger.Warn("selection returned no usable modules, using default roster")
		}
		selected = append([]string(nil), m.roster...)
		meta.AutoSelected = false
	case len(selected) < MinSelected:
		selected = topUp(selected, m.roster, MinSelected)
		logger.Warn("selection returned too few modules, topped up from roster", "selected", selected)
	}
	meta.SelectedModules = selected

	system, user = prompts.GapCheck(problem, selected, pool)
	gap, err := m.svc.Analyze(ctx, system, user)
	if err != nil {
		logger.Warn("gap check failed, keeping selection", "error", err)
		return selected, nil, meta
	}
	meta.GapCheckReasoning = gap.String("reasoning")

	var adHoc []model.AdHocModule
	for _, item := range gap.Get("ad_hoc_modules").Array() {
		def := model.AdHocModule{
			Name:         item.Get("name").String(),
			SystemPrompt: item.Get("system_prompt").String(),
		}
		if def.Name == "" || def.SystemPrompt == "" {
			continue
		}
		adHoc = append(adHoc, def)
		if len(adHoc) == MaxAdHoc {
			break
		}
	}

	logger.Info("modules selected", "selected", selected, "ad_hoc", len(adHoc))
	return selected, adHoc, meta
}

// topUp appends roster modules not yet in selected until it holds n names.
func topUp(selected, roster []string, n int) []string {
	for _, name := range roster {
		if len(selected) >= n {
			break
		}
		if !slices.Contains(selected, name) {
			selected = append(selected, name)
		}
	}
	return selected
}
