// Package pagination walks the marketplace item listing to completion.
//
// The listing is offset based and reports total_count on every page. The
// orchestrator fetches the first page to learn the total, then fetches the
// remaining pages in sequential groups: every page of a group is in flight at
// once, and the next group starts only after the whole group has settled.
// This bounds peak concurrency to the group width.
//
// Example usage:
//
//	orch := pagination.NewOrchestrator(catalogAPI, pagination.DefaultConfig())
//	ids, err := orch.ListAllStatuses(ctx, pagination.DefaultStatuses)
//
// The orchestrator:
//   - Fetches offset 0 to read total_count
//   - Groups the remaining offsets by GroupWidth
//   - Preserves page order and drops duplicate ids
//   - Returns an empty result for a status whose first page is malformed
package pagination
