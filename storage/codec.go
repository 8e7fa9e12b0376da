package storage

import (
	"fmt"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

func encodeDocument(doc domain.Document) ([]byte, error) {
	return sonic.ConfigStd.Marshal(domain.Normalize(doc))
}

// decodeDocument parses a stored document. A payload without a boards array
// counts as no data.
func decodeDocument(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return domain.Document{}, fmt.Errorf("%w: decode: %v", domain.ErrLoad, err)
	}
	if doc.Boards == nil {
		return domain.Document{}, domain.ErrNoData
	}
	return domain.Normalize(doc), nil
}

// decodeWrapped extracts the document from a wrapper object such as
// {"record": {...}} or {"success": true, "data": {...}}.
func decodeWrapped(data []byte, field string) (domain.Document, error) {
	if field == "" {
		return decodeDocument(data)
	}
	var wrapper map[string]sonic.NoCopyRawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &wrapper); err != nil {
		return domain.Document{}, fmt.Errorf("%w: decode wrapper: %v", domain.ErrLoad, err)
	}
	raw, ok := wrapper[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return domain.Document{}, domain.ErrNoData
	}
	return decodeDocument(raw)
}
