// Package exporter implements the built-in project export job. It snapshots
// the current scene document into the blob store so viewers can download a
// stable artifact while agents keep editing.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"github.com/armature-studio/armature/internal/blob"
	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
)

// Kind is the job kind this handler serves.
const Kind = "project.export"

var exportJSON = jsoniter.ConfigCompatibleWithStandardLibrary

type request struct {
	TenantID string `json:"tenant_id"`
}

// Artifact describes one completed export, returned as the job result.
type Artifact struct {
	Key      string `json:"key"`
	Revision string `json:"revision"`
	Bytes    int    `json:"bytes"`
}

// Exporter snapshots project documents into a blob store.
type Exporter struct {
	coord  *coordinator.Coordinator
	blobs  blob.Store
	logger *slog.Logger
}

func New(coord *coordinator.Coordinator, blobs blob.Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{coord: coord, blobs: blobs, logger: logger}
}

// Handle exports the project document as it exists at claim time. The
// revision recorded in the artifact identifies which save the export captured.
func (e *Exporter) Handle(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	var req request
	if len(j.Payload) > 0 {
		if err := exportJSON.Unmarshal(j.Payload, &req); err != nil {
			return nil, fmt.Errorf("decoding export payload: %w", err)
		}
	}
	if req.TenantID == "" {
		req.TenantID = "default"
	}

	scope := projectdoc.Scope{TenantID: req.TenantID, ProjectID: j.ProjectID}
	rec, err := e.coord.GetProject(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", scope, err)
	}

	key := ArtifactKey(req.TenantID, j.ProjectID, j.ID)
	if err := e.blobs.Put(ctx, key, bytes.NewReader(rec.State)); err != nil {
		return nil, fmt.Errorf("writing export artifact: %w", err)
	}

	e.logger.Info("exported project", "project_id", j.ProjectID, "revision", rec.Revision, "key", key)

	result, err := exportJSON.Marshal(Artifact{
		Key:      key,
		Revision: rec.Revision,
		Bytes:    len(rec.State),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding export result: %w", err)
	}
	return result, nil
}

// ArtifactKey names the blob an export job writes. One key per job, so
// repeated exports never clobber each other.
func ArtifactKey(tenantID, projectID, jobID string) string {
	return "exports/" + tenantID + "/" + projectID + "/" + jobID + ".json"
}
