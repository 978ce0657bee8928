package retrieval

import (
	"encoding/json"
	"fmt"
	"strings"

	"litigation-backend/internal/browser"
)

// documentListEnvelope is the portal's "documents for delivery" response.
type documentListEnvelope struct {
	Code    json.Number     `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type documentItem struct {
	DocumentNumber string `json:"c_wsbh"`
	DeliveryNumber string `json:"c_sdbh"`
	Name           string `json:"c_wsmc"`
	FileType       string `json:"c_wjgs"`
	FileURL        string `json:"wjlj"`
}

// ParseDocumentList decodes an intercepted response body. A success envelope with an
// empty list is valid and yields no documents.
func ParseDocumentList(body []byte) ([]Discovered, error) {
	var env documentListEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocumentList, err)
	}
	if code := env.Code.String(); code != "" && code != "200" && code != "0" {
		msg := env.Msg
		if msg == "" {
			msg = env.Message
		}
		return nil, fmt.Errorf("%w: code %s: %s", ErrMalformedDocumentList, code, msg)
	}
	raw := strings.TrimSpace(string(env.Data))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []documentItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedDocumentList, err)
	}
	out := make([]Discovered, 0, len(items))
	for _, it := range items {
		d := Discovered{
			DocumentNumber: strings.TrimSpace(it.DocumentNumber),
			DeliveryNumber: strings.TrimSpace(it.DeliveryNumber),
			Name:           strings.TrimSpace(it.Name),
			FileURL:        strings.TrimSpace(it.FileURL),
			FileType:       strings.ToLower(strings.TrimSpace(it.FileType)),
		}
		if d.DocumentNumber == "" || d.DeliveryNumber == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func fromScraped(docs []browser.ScrapedDocument) []Discovered {
	out := make([]Discovered, 0, len(docs))
	for _, d := range docs {
		if d.DocumentNumber == "" || d.DeliveryNumber == "" {
			continue
		}
		out = append(out, Discovered{
			DocumentNumber: d.DocumentNumber,
			DeliveryNumber: d.DeliveryNumber,
			Name:           d.Name,
			FileURL:        d.FileURL,
			FileType:       strings.ToLower(d.FileType),
		})
	}
	return out
}
