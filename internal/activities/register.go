package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.LoadDocumentActivity)
	w.RegisterActivity(a.EnrichChunkActivity)
	w.RegisterActivity(a.IndexChunksActivity)
	w.RegisterActivity(a.UpsertChunksActivity)
	w.RegisterActivity(a.FinishDocumentActivity)
	w.RegisterActivity(a.MarkDocumentFailedActivity)
}
