package dag

import "github.com/oriys/squall/internal/domain"

// ComputeFutureReadSet walks forward from startNode through dag's
// connections and returns the union of keys referenced by every
// successor's static arguments: a speculative prefetch/snapshot-widening
// hint, not startNode's own arguments, since those have already been
// resolved by the time this is computed.
func ComputeFutureReadSet(d domain.Dag, sched domain.Schedule, startNode string) []string {
	seen := make(map[string]bool)
	keySeen := make(map[string]bool)
	var keys []string

	queue := []string{startNode}
	visited := map[string]bool{startNode: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, conn := range d.OutgoingConnections(current) {
			if !seen[conn.Sink] {
				seen[conn.Sink] = true
				for _, ref := range extractReferences(sched.Arguments[conn.Sink]) {
					if !keySeen[ref.Key] {
						keySeen[ref.Key] = true
						keys = append(keys, ref.Key)
					}
				}
			}
			if !visited[conn.Sink] {
				visited[conn.Sink] = true
				queue = append(queue, conn.Sink)
			}
		}
	}

	return keys
}
