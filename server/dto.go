package server

// BulkMessage is one entry of a send-bulk request.
type BulkMessage struct {
	Phone       string `json:"phone"`
	Message     string `json:"message"`
	ImageBase64 string `json:"imageBase64"`
}

type BulkSendRequest struct {
	Messages []BulkMessage `json:"messages"`
}

type ConnectResponse struct {
	Status string `json:"status"`
}

// StatusResponse mirrors the session poll: qrCode is a PNG data URI while a
// scan is pending, JSON null otherwise.
type StatusResponse struct {
	Status string  `json:"status"`
	QRCode *string `json:"qrCode"`
}

type ResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}
