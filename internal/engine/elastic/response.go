package elastic

import (
	"encoding/json"

	"idxsync/internal/errs"
)

func (r response) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

func expectEmpty(op string, r response) error {
	if !r.ok() {
		return errs.RemoteProtocol(op, r.Status, string(r.Body))
	}
	return nil
}

// expectJSON decodes a successful body into out. A non-success status is
// reported with the raw body.
func expectJSON(op string, r response, out any) error {
	if !r.ok() {
		return errs.RemoteProtocol(op, r.Status, string(r.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errs.Parse(op, "decode response", err)
	}
	return nil
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

// firstFailure returns the first failed item of a bulk response.
func (b bulkResponse) firstFailure() (int, string, bool) {
	for _, item := range b.Items {
		for _, o := range item {
			if o.Status >= 300 || len(o.Error) > 0 {
				return o.Status, string(o.Error), true
			}
		}
	}
	return 0, "", false
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}
