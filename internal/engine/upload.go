package engine

import (
	"context"
	"fmt"

	"github.com/easelhq/easel/internal/comfy"
	"github.com/easelhq/easel/internal/model"
	"github.com/easelhq/easel/internal/store"
)

// uploadArtifacts propagates the job's artifacts into the object store and,
// when opted in, the asset library. Artifacts are processed strictly in the
// order the job reported them; each one updates the persisted progress so
// concurrent readers see the counters advance before the run finishes.
//
// Failure policy: an artifact whose fetch fails is dropped entirely; a
// primary-store failure is logged but keeps the artifact in the output list;
// an asset-library failure is logged and ignored. None of these stop the
// loop or fail the run.
func (e *Engine) uploadArtifacts(ctx context.Context, r *model.Run, artifacts []comfy.Artifact) {
	total := len(artifacts)
	if err := e.store.SetRunImagesTotal(ctx, r.ID, total); err != nil {
		e.logger.Error("persist images total", "run_id", r.ID, "error", err)
	}

	var names, paths, assetIDs []string
	completed := 0

	for _, a := range artifacts {
		completed++

		data := e.compute.FetchArtifact(ctx, a)
		if data == nil {
			e.logger.Warn("artifact fetch failed, dropping artifact",
				"run_id", r.ID, "filename", a.Filename)
			e.persistProgress(ctx, r.ID, completed, total, names, paths, assetIDs)
			continue
		}
		artifactsFetched.Inc()
		names = append(names, a.Filename)

		if path, err := e.objects.Put(ctx, r.OwnerID, r.ID, a.Filename, data); err != nil {
			e.logger.Error("object store upload failed",
				"run_id", r.ID, "filename", a.Filename, "error", err)
		} else {
			paths = append(paths, path)
			artifactsStored.Inc()
		}

		if r.SaveToLibrary && e.assets != nil {
			if assetID, err := e.assets.Upload(ctx, r.OwnerID, a.Filename, data); err != nil {
				e.logger.Error("asset library upload failed",
					"run_id", r.ID, "filename", a.Filename, "error", err)
			} else {
				assetIDs = append(assetIDs, assetID)
				artifactsMirrored.Inc()
			}
		}

		e.persistProgress(ctx, r.ID, completed, total, names, paths, assetIDs)
	}
}

func (e *Engine) persistProgress(ctx context.Context, runID string, completed, total int, names, paths, assetIDs []string) {
	err := e.store.UpdateRunProgress(ctx, runID, store.RunProgress{
		Message:         fmt.Sprintf("processed %d of %d images", completed, total),
		ImagesCompleted: completed,
		OutputNames:     names,
		StorePaths:      paths,
		AssetIDs:        assetIDs,
	})
	if err != nil {
		e.logger.Error("persist run progress", "run_id", runID, "error", err)
	}
}
