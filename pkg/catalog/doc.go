// Package catalog loads ranges of catalog products concurrently and keeps
// the results in an identifier-sorted collection plus a per-identifier
// error map.
//
// Every identifier is fetched by its own goroutine. A failure is recorded
// for that identifier only; it never aborts or delays the others.
//
// Example usage:
//
//	store := catalog.NewStore()
//	loader := catalog.NewLoader(catalogClient, store, catalog.DefaultConfig())
//
//	batch, err := loader.LoadRange(ctx, 1, 194)
//	if err != nil {
//		return err
//	}
//	if err := batch.Wait(ctx); err != nil {
//		return err
//	}
//
//	products := store.Products() // sorted by ID
//	failures := store.Errors()   // id -> reason
//
// The store:
//   - Accumulates across batches unless Config.ResetOnLoad is set
//   - Replaces an existing product with the same ID instead of duplicating it
//   - Drops an identifier from the error map once it is fetched successfully
//   - Hands out copies, so readers never see a half-applied merge
//
// A batch handle reports progress and settles once every identifier has
// either merged into the collection or into the error map.
package catalog
