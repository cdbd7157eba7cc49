package onebot

import "encoding/json"

// --- Calls (client -> peer) ---

// apiRequest is the outbound call frame. The echo field carries the
// correlation id that routes the eventual response back to the caller.
type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

// --- Responses (peer -> client) ---

// apiResponse is the inbound response frame for a correlated call.
type apiResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
}

const statusFailed = "failed"

// IsFailed reports whether the peer rejected the call.
func (r *apiResponse) IsFailed() bool {
	return r.Status == statusFailed
}

func (r *apiResponse) errorMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Wording
}

// framePeek is the minimal view of an inbound frame used to decide
// whether it is a call response or an unsolicited event. The presence
// of echo alongside a status/retcode pair is exactly what routes a
// frame to the pending-call table; everything with a post_type goes to
// the classifier.
type framePeek struct {
	Echo     string          `json:"echo"`
	PostType string          `json:"post_type"`
	Status   json.RawMessage `json:"status"`
	Retcode  json.RawMessage `json:"retcode"`
}

func (p *framePeek) isResponse() bool {
	return p.Echo != "" && p.Status != nil && p.Retcode != nil
}

func (p *framePeek) isEvent() bool {
	return p.PostType != ""
}
