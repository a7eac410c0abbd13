package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// fileSchema is the top-level shape of a catalog definition file.
type fileSchema struct {
	Jobs      []jobBlock      `hcl:"job,block"`
	Templates []templateBlock `hcl:"template,block"`
	TestPlans []testPlanBlock `hcl:"testplan,block"`
}

// jobBlock mirrors unit.Spec field for field; all values are strings
// because rendered template fields and hand-written jobs share one shape.
type jobBlock struct {
	ID                string `hcl:"id,label"`
	Kind              string `hcl:"kind,optional"`
	Summary           string `hcl:"summary,optional"`
	Command           string `hcl:"command,optional"`
	User              string `hcl:"user,optional"`
	Environ           string `hcl:"environ,optional"`
	Requires          string `hcl:"requires,optional"`
	Depends           string `hcl:"depends,optional"`
	After             string `hcl:"after,optional"`
	Salvages          string `hcl:"salvages,optional"`
	Flags             string `hcl:"flags,optional"`
	EstimatedDuration string `hcl:"estimated_duration,optional"`
}

func (b jobBlock) spec() unit.Spec {
	return unit.Spec{
		ID:                b.ID,
		Kind:              b.Kind,
		Summary:           b.Summary,
		Command:           b.Command,
		User:              b.User,
		Environ:           b.Environ,
		Requires:          b.Requires,
		Depends:           b.Depends,
		After:             b.After,
		Salvages:          b.Salvages,
		Flags:             b.Flags,
		EstimatedDuration: b.EstimatedDuration,
	}
}

type templateBlock struct {
	ID       string        `hcl:"id,label"`
	Resource string        `hcl:"resource"`
	Engine   string        `hcl:"engine,optional"`
	Filter   string        `hcl:"filter,optional"`
	Skeleton skeletonBlock `hcl:"job,block"`
}

// skeletonBlock is the job nested inside a template. Its id is an
// attribute rather than a block label: skeleton ids carry placeholders
// like "disk/stats_{name}" and only become real ids after expansion.
type skeletonBlock struct {
	ID                string `hcl:"id"`
	Kind              string `hcl:"kind,optional"`
	Summary           string `hcl:"summary,optional"`
	Command           string `hcl:"command,optional"`
	User              string `hcl:"user,optional"`
	Environ           string `hcl:"environ,optional"`
	Requires          string `hcl:"requires,optional"`
	Depends           string `hcl:"depends,optional"`
	After             string `hcl:"after,optional"`
	Salvages          string `hcl:"salvages,optional"`
	Flags             string `hcl:"flags,optional"`
	EstimatedDuration string `hcl:"estimated_duration,optional"`
}

func (b skeletonBlock) spec() unit.Spec {
	return unit.Spec{
		ID:                b.ID,
		Kind:              b.Kind,
		Summary:           b.Summary,
		Command:           b.Command,
		User:              b.User,
		Environ:           b.Environ,
		Requires:          b.Requires,
		Depends:           b.Depends,
		After:             b.After,
		Salvages:          b.Salvages,
		Flags:             b.Flags,
		EstimatedDuration: b.EstimatedDuration,
	}
}

type testPlanBlock struct {
	ID        string   `hcl:"id,label"`
	Summary   string   `hcl:"summary,optional"`
	Bootstrap []string `hcl:"bootstrap,optional"`
	Include   []string `hcl:"include,optional"`
	Exclude   []string `hcl:"exclude,optional"`
}

// Load builds a catalog from every .hcl file at path (a file or a
// directory scanned recursively). A file that fails to parse is a load
// error; a unit that fails validation is excluded and recorded.
func Load(ctx context.Context, namespace, path string) (*Catalog, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading catalog.", "namespace", namespace, "path", path)

	files, err := findDefinitionFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logger.Warn("No catalog definition files found.", "path", path)
	}

	c := New(namespace)
	for _, file := range files {
		if err := c.loadFile(ctx, file); err != nil {
			return nil, fmt.Errorf("failed to load catalog file %s: %w", file, err)
		}
	}

	c.Validate(ctx)
	logger.Info("Catalog loaded.",
		"jobs", len(c.order), "templates", len(c.templates), "test_plans", len(c.plans))
	return c, nil
}

func (c *Catalog) loadFile(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding catalog file.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse %s: %s", path, diags.Error())
	}

	var schema fileSchema
	diags = gohcl.DecodeBody(file.Body, nil, &schema)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode %s: %s", path, diags.Error())
	}

	for _, block := range schema.Jobs {
		job, err := unit.NewJob(block.spec(), c.Namespace)
		if err != nil {
			c.recordProblem(fmt.Errorf("%s: %w", path, err))
			logger.Warn("Job definition excluded.", "path", path, "id", block.ID, "error", err)
			continue
		}
		if err := c.AddJob(job); err != nil {
			c.recordProblem(fmt.Errorf("%s: %w", path, err))
			logger.Warn("Job definition excluded.", "path", path, "id", block.ID, "error", err)
		}
	}

	for _, block := range schema.Templates {
		tmpl, err := unit.NewTemplate(unit.TemplateSpec{
			ID:       block.ID,
			Resource: block.Resource,
			Engine:   block.Engine,
			Filter:   block.Filter,
			Skeleton: block.Skeleton.spec(),
		}, c.Namespace)
		if err != nil {
			c.recordProblem(fmt.Errorf("%s: %w", path, err))
			logger.Warn("Template definition excluded.", "path", path, "id", block.ID, "error", err)
			continue
		}
		c.AddTemplate(tmpl)
	}

	for _, block := range schema.TestPlans {
		plan, err := unit.NewTestPlan(unit.TestPlanSpec{
			ID:        block.ID,
			Summary:   block.Summary,
			Bootstrap: block.Bootstrap,
			Include:   block.Include,
			Exclude:   block.Exclude,
		}, c.Namespace)
		if err != nil {
			c.recordProblem(fmt.Errorf("%s: %w", path, err))
			logger.Warn("Test plan definition excluded.", "path", path, "id", block.ID, "error", err)
			continue
		}
		if err := c.AddTestPlan(plan); err != nil {
			c.recordProblem(fmt.Errorf("%s: %w", path, err))
			logger.Warn("Test plan definition excluded.", "path", path, "id", block.ID, "error", err)
		}
	}

	return nil
}

// findDefinitionFiles resolves a path to the sorted list of .hcl files
// it holds. Sorting keeps declaration order independent of directory
// iteration order.
func findDefinitionFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog path not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}

	if !info.IsDir() {
		if filepath.Ext(path) != ".hcl" {
			return nil, fmt.Errorf("specified file is not an .hcl file: %s", path)
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(p) == ".hcl" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
