package webhooks

type streamTargetResponse struct {
	StreamURL string `json:"streamUrl"`
}
