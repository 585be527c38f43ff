package dto

type EnqueueResponse struct {
	JobID     string `json:"job_id"`
	MediaID   string `json:"media_id"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

type ImageDTO struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

type ListImagesResponse struct {
	MediaID string     `json:"media_id"`
	Images  []ImageDTO `json:"images"`
}
