package jobqueue

import (
	"fmt"

	"github.com/streamrec/core/model"
)

// TopoSort orders nodes so every dependency runs before its dependents.
// Ready nodes are emitted first-in first-out: the nodes with no
// dependencies in list order, then each emitted node's dependents, in
// list order, as their last dependency is emitted. A node that becomes
// ready later can therefore follow one that comes after it in the list.
func TopoSort(nodes []model.DagNode) ([]model.DagNode, error) {
	byID := make(map[string]model.DagNode, len(nodes))
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))

	for _, n := range nodes {
		byID[n.NodeID] = n
		if _, ok := indegree[n.NodeID]; !ok {
			indegree[n.NodeID] = 0
		}
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.NodeID)
			indegree[n.NodeID]++
		}
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n.NodeID] == 0 {
			ready = append(ready, n.NodeID)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("jobqueue: dependency cycle detected among %d unresolved node(s)", len(nodes)-len(order))
	}

	sorted := make([]model.DagNode, len(order))
	for i, id := range order {
		sorted[i] = byID[id]
	}
	return sorted, nil
}

// unionInputs returns rootInputs plus every dependency's recorded
// outputs, deduplicated while preserving first-seen order.
func unionInputs(rootInputs []string, node model.DagNode, outputsByNode map[string][]string) []string {
	seen := make(map[string]bool, len(rootInputs))
	out := make([]string, 0, len(rootInputs))
	for _, in := range rootInputs {
		if !seen[in] {
			seen[in] = true
			out = append(out, in)
		}
	}
	for _, dep := range node.DependsOn {
		for _, o := range outputsByNode[dep] {
			if !seen[o] {
				seen[o] = true
				out = append(out, o)
			}
		}
	}
	return out
}

// passthroughOutputs applies a node's Passthrough flag: when set, its
// inputs (minus anything the processor reported as deleted) flow through
// alongside its own outputs.
func passthroughOutputs(node model.DagNode, inputs, outputs, deleted []string) []string {
	if !node.Passthrough {
		return outputs
	}
	deletedSet := make(map[string]bool, len(deleted))
	for _, d := range deleted {
		deletedSet[d] = true
	}
	result := make([]string, 0, len(inputs)+len(outputs))
	for _, in := range inputs {
		if !deletedSet[in] {
			result = append(result, in)
		}
	}
	result = append(result, outputs...)
	return result
}
