package label

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Artifact is the downloadable result of a generation run.
type Artifact struct {
	ContentType string
	Filename    string
	Data        []byte
}

// BuildArtifact packages the ready labels for download. One label
// streams as a PDF; several are zipped with one entry per shipment.
// An artifact is only produced for a clean run: any recorded error or
// an async hand-off yields none.
func BuildArtifact(result *Result) (*Artifact, error) {
	if !result.Errors.Empty() || result.BatchID != "" || len(result.Labels) == 0 {
		return nil, nil
	}

	if len(result.Labels) == 1 {
		ready := result.Labels[0]
		return &Artifact{
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("%s.pdf", ready.ShipmentID),
			Data:        ready.PDF,
		}, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ready := range result.Labels {
		entry, err := zw.Create(fmt.Sprintf("%s.pdf", ready.ShipmentID))
		if err != nil {
			return nil, fmt.Errorf("creating zip entry for shipment %s: %w", ready.ShipmentID, err)
		}
		if _, err := entry.Write(ready.PDF); err != nil {
			return nil, fmt.Errorf("writing zip entry for shipment %s: %w", ready.ShipmentID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing label archive: %w", err)
	}

	return &Artifact{
		ContentType: "application/zip",
		Filename:    "labels.zip",
		Data:        buf.Bytes(),
	}, nil
}
