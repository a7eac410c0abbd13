package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/canonical/checkbox-sub003/internal/catalog"
	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/selection"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// CycleError reports a dependency cycle with the full path named, e.g.
// "a -> b -> c -> a".
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// node is one job in the dependency graph.
type node struct {
	job *unit.Job
	// deps are the jobs that must be ordered before this one.
	deps map[string]*node
	// priority is the tie-break rank: selection position for selected
	// jobs, catalog position after that for pulled-in dependencies.
	priority int
}

// Resolve builds the dependency graph for a selection and returns the
// jobs in execution order, or a diagnostic. Jobs that selected jobs
// depend on, and the resource producers their requires programs read,
// are pulled into the run even when the plan did not name them.
func Resolve(ctx context.Context, sel *selection.Result, cat *catalog.Catalog) ([]*unit.Job, error) {
	logger := ctxlog.FromContext(ctx)

	nodes := make(map[string]*node)
	var keys []string

	add := func(job *unit.Job, priority int) *node {
		key := job.ID.String()
		if n, ok := nodes[key]; ok {
			if priority < n.priority {
				n.priority = priority
			}
			return n
		}
		n := &node{job: job, deps: make(map[string]*node), priority: priority}
		nodes[key] = n
		keys = append(keys, key)
		return n
	}

	selected := sel.All()
	for i, job := range selected {
		add(job, i)
	}

	// Pull in dependency closure. depends and after targets and resource
	// producers must run, or the waiting job could never clear its gate;
	// salvages targets only gate the job when they are part of the run
	// anyway, since an absent target never fails.
	catalogBase := len(selected)
	queue := append([]*unit.Job(nil), selected...)
	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]
		for _, id := range job.Depends {
			dep, ok := cat.Job(id)
			if !ok {
				return nil, fmt.Errorf("job %s depends on unknown job %s", job.ID, id)
			}
			if _, seen := nodes[dep.ID.String()]; !seen {
				add(dep, catalogBase+cat.Index(dep.ID))
				queue = append(queue, dep)
			}
		}
		for _, id := range job.After {
			dep, ok := cat.Job(id)
			if !ok {
				return nil, fmt.Errorf("job %s is ordered after unknown job %s", job.ID, id)
			}
			if _, seen := nodes[dep.ID.String()]; !seen {
				add(dep, catalogBase+cat.Index(dep.ID))
				queue = append(queue, dep)
			}
		}
		for _, producer := range cat.ResourceProducers(job) {
			if _, seen := nodes[producer.ID.String()]; !seen {
				add(producer, catalogBase+cat.Index(producer.ID))
				queue = append(queue, producer)
			}
		}
	}

	// Link edges between jobs that made it into the run.
	for _, key := range keys {
		n := nodes[key]
		link := func(ids []*unit.Job) {
			for _, target := range ids {
				if dep, ok := nodes[target.ID.String()]; ok && dep != n {
					n.deps[target.ID.String()] = dep
				}
			}
		}
		var targets []*unit.Job
		for _, id := range n.job.Depends {
			if t, ok := cat.Job(id); ok {
				targets = append(targets, t)
			}
		}
		for _, id := range n.job.After {
			if t, ok := cat.Job(id); ok {
				targets = append(targets, t)
			}
		}
		for _, id := range n.job.Salvages {
			if t, ok := cat.Job(id); ok {
				targets = append(targets, t)
			}
		}
		link(targets)
		link(cat.ResourceProducers(n.job))
	}

	order, err := topoSort(nodes, keys)
	if err != nil {
		return nil, err
	}

	logger.Debug("Schedule resolved.", "selected", len(selected), "total", len(order))
	return order, nil
}

// topoSort is Kahn's algorithm with a priority-ordered ready queue, so
// the output is the unique order that satisfies every edge while
// breaking every tie by declaration rank.
func topoSort(nodes map[string]*node, keys []string) ([]*unit.Job, error) {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, key := range keys {
		indegree[key] = len(nodes[key].deps)
		for depKey := range nodes[key].deps {
			dependents[depKey] = append(dependents[depKey], key)
		}
	}

	var ready []string
	for _, key := range keys {
		if indegree[key] == 0 {
			ready = append(ready, key)
		}
	}

	byPriority := func(keys []string) {
		sort.Slice(keys, func(i, j int) bool {
			return nodes[keys[i]].priority < nodes[keys[j]].priority
		})
	}
	byPriority(ready)

	var order []*unit.Job
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		order = append(order, nodes[key].job)

		released := false
		for _, depKey := range dependents[key] {
			indegree[depKey]--
			if indegree[depKey] == 0 {
				ready = append(ready, depKey)
				released = true
			}
		}
		if released {
			byPriority(ready)
		}
	}

	if len(order) != len(nodes) {
		return nil, findCycle(nodes, indegree)
	}
	return order, nil
}

// findCycle walks the unsorted remainder to name one complete cycle.
func findCycle(nodes map[string]*node, indegree map[string]int) *CycleError {
	// Every remaining node sits on or leads into a cycle; following dep
	// links from any of them must revisit a node.
	var start string
	remaining := make([]string, 0)
	for key, degree := range indegree {
		if degree > 0 {
			remaining = append(remaining, key)
		}
	}
	sort.Strings(remaining)
	start = remaining[0]

	seen := make(map[string]int)
	path := []string{}
	current := start
	for {
		if at, ok := seen[current]; ok {
			cycle := append(append([]string(nil), path[at:]...), current)
			return &CycleError{Path: cycle}
		}
		seen[current] = len(path)
		path = append(path, current)

		// Follow the smallest unresolved dependency for determinism.
		next := ""
		for depKey := range nodes[current].deps {
			if indegree[depKey] > 0 && (next == "" || depKey < next) {
				next = depKey
			}
		}
		if next == "" {
			// Shouldn't happen: a node with unresolved indegree has an
			// unresolved dependency somewhere. Fall back to a bare
			// report rather than looping.
			return &CycleError{Path: []string{current}}
		}
		current = next
	}
}
