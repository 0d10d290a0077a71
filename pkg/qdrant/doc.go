// Package qdrant wraps the official Qdrant Go client for a single collection
// of dense vectors scored by cosine similarity.
//
// The collection is never created with a hard-coded size: EnsureCollection
// takes the dimension observed from the embedding model and refuses to run
// against a collection that was created for a different one.
//
//	client, err := qdrant.NewClient(qdrant.Config{Endpoint: "localhost", Collection: "media"}, log)
//	if err != nil {
//		return err
//	}
//	if err := client.EnsureCollection(ctx, 512); err != nil {
//		return err
//	}
//	hits, err := client.Query(ctx, vec, 10)
package qdrant
