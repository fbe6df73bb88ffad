package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID    string     `json:"documentId"`
	FileName      string     `json:"fileName"`
	ContentType   string     `json:"contentType"`
	SizeBytes     int64      `json:"sizeBytes"`
	Status        Status     `json:"status"`
	ChunkCount    int        `json:"chunkCount"`
	ErrorDetail   string     `json:"errorDetail,omitempty"`
	DeletePending bool       `json:"deletePending,omitempty"`
	UploadedAt    time.Time  `json:"uploadedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// ListResponse pages through a tenant's documents.
type ListResponse struct {
	Documents []DocumentResponse `json:"documents"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// DeleteResponse reports whether deletion finished or is pending.
type DeleteResponse struct {
	DocumentID string `json:"documentId"`
	Deleted    bool   `json:"deleted"`
	Pending    bool   `json:"pending"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:    doc.ID,
		FileName:      doc.FileName,
		ContentType:   doc.ContentType,
		SizeBytes:     doc.SizeBytes,
		Status:        doc.Status,
		ChunkCount:    doc.ChunkCount,
		ErrorDetail:   doc.ErrorDetail,
		DeletePending: doc.DeletePending,
		UploadedAt:    doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		ProcessedAt:   doc.ProcessedAt,
	}
}
