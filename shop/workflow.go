package shop

import (
	"embed"
	"errors"
	"fmt"

	"github.com/dshills/stepflow/flow"
)

//go:embed workflows/*.yaml
var workflowFS embed.FS

// Workflow names, matching the embedded definition files.
const (
	WorkflowQA    = "qa"
	WorkflowAdmin = "admin"
)

// Definition returns the embedded step wiring of the named workflow.
func Definition(name string) (*flow.Definition, error) {
	f, err := workflowFS.Open("workflows/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown workflow %q: %w", name, err)
	}
	defer f.Close()
	return flow.LoadDefinition(f)
}

// NewQARegistry builds the question-answering workflow:
// classify -> ask | search -> stop.
func NewQARegistry(a *Agent) (*flow.Registry, error) {
	if a.Classifier == nil || a.Retriever == nil || a.Formatter == nil {
		return nil, errors.New("qa workflow needs a classifier, retriever and formatter")
	}
	def, err := Definition(WorkflowQA)
	if err != nil {
		return nil, err
	}
	return def.Build(map[string]flow.Step{
		"classify": a.classify(qaRoutes...),
		"ask":      a.ask(),
		"search":   a.search(),
	})
}

// NewAdminRegistry builds the Q/A workflow plus the admin route, which
// parks for a yes/no confirmation before inserting a staged item.
func NewAdminRegistry(a *Agent) (*flow.Registry, error) {
	if a.Classifier == nil || a.Retriever == nil || a.Formatter == nil {
		return nil, errors.New("admin workflow needs a classifier, retriever and formatter")
	}
	if a.Indexer == nil || a.Items == nil || a.Writer == nil {
		return nil, errors.New("admin workflow needs an index extractor, items and a writer")
	}
	def, err := Definition(WorkflowAdmin)
	if err != nil {
		return nil, err
	}
	return def.Build(map[string]flow.Step{
		"classify": a.classify(adminRoutes...),
		"ask":      a.ask(),
		"search":   a.search(),
		"admin":    a.admin(),
	})
}

var (
	qaRoutes    = []Category{CategoryAsk, CategorySearch}
	adminRoutes = []Category{CategoryAsk, CategorySearch, CategoryAdmin}
)

// Routes returns the categories the named workflow's classify step routes.
// A classifier for that workflow should offer exactly these.
func Routes(name string) ([]Category, error) {
	switch name {
	case WorkflowQA:
		return append([]Category(nil), qaRoutes...), nil
	case WorkflowAdmin:
		return append([]Category(nil), adminRoutes...), nil
	}
	return nil, fmt.Errorf("unknown workflow %q", name)
}

// NewRegistry builds the named workflow.
func NewRegistry(name string, a *Agent) (*flow.Registry, error) {
	switch name {
	case WorkflowQA:
		return NewQARegistry(a)
	case WorkflowAdmin:
		return NewAdminRegistry(a)
	}
	return nil, fmt.Errorf("unknown workflow %q", name)
}
