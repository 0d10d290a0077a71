package embedding

// ExtractRequest is the body of POST /extract.
type ExtractRequest struct {
	Model     string `json:"model"`
	MediaType string `json:"media_type"`
	Content   []byte `json:"content"` // base64 on the wire
}

// Tag is one label predicted for the media.
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Extraction is the response of POST /extract.
type Extraction struct {
	Embedding    []float32 `json:"embedding"`
	Caption      string    `json:"caption"`
	Tags         []Tag     `json:"tags"`
	ModelVersion string    `json:"model_version"`
	// KeyFrame is the JPEG frame a video was embedded from. Empty for images.
	KeyFrame     []byte    `json:"key_frame,omitempty"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
