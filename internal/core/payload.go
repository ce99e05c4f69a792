package core

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PayloadEncoding names the wire shape an inline payload arrived in.
type PayloadEncoding string

const (
	EncodingBase64    PayloadEncoding = "base64"
	EncodingByteArray PayloadEncoding = "byte_array"
	EncodingBuffer    PayloadEncoding = "buffer"
	EncodingIndexMap  PayloadEncoding = "index_map"
)

// DecodePayload converts an inline command payload into raw bytes. The
// recognised shapes are a base64 string (optionally a data URL), a JSON
// array of byte values, a serialized buffer object
// {"type":"Buffer","data":[...]}, and an object keyed by byte index.
func DecodePayload(raw json.RawMessage) ([]byte, PayloadEncoding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", payloadError("payload is empty", nil)
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, "", payloadError("invalid string payload", err)
		}
		data, err := decodeBase64(s)
		if err != nil {
			return nil, "", payloadError("invalid base64 payload", err)
		}
		return data, EncodingBase64, nil

	case '[':
		data, err := decodeByteArray(trimmed)
		if err != nil {
			return nil, "", err
		}
		return data, EncodingByteArray, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, "", payloadError("invalid object payload", err)
		}
		if typ, ok := obj["type"]; ok {
			var name string
			_ = json.Unmarshal(typ, &name)
			arr, hasData := obj["data"]
			if name != "Buffer" || !hasData {
				return nil, "", payloadError(fmt.Sprintf("unsupported object type %q", name), nil)
			}
			data, err := decodeByteArray(arr)
			if err != nil {
				return nil, "", err
			}
			return data, EncodingBuffer, nil
		}
		data, err := decodeIndexMap(obj)
		if err != nil {
			return nil, "", err
		}
		return data, EncodingIndexMap, nil
	}

	return nil, "", payloadError(fmt.Sprintf("unexpected token %q", trimmed[0]), nil)
}

func payloadError(msg string, err error) error {
	if err != nil {
		err = fmt.Errorf("%s: %w", msg, err)
	} else {
		err = fmt.Errorf("%s", msg)
	}
	return NewError(ErrPayloadDecode, "decode payload", err)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 || !strings.Contains(s[:idx], ";base64") {
			return nil, fmt.Errorf("data url is not base64 encoded")
		}
		s = s[idx+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("empty string")
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeByteArray(raw json.RawMessage) ([]byte, error) {
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, payloadError("invalid byte array", err)
	}
	if len(values) == 0 {
		return nil, payloadError("byte array is empty", nil)
	}
	data := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, payloadError(fmt.Sprintf("byte %d out of range: %d", i, v), nil)
		}
		data[i] = byte(v)
	}
	return data, nil
}

func decodeIndexMap(obj map[string]json.RawMessage) ([]byte, error) {
	if len(obj) == 0 {
		return nil, payloadError("index map is empty", nil)
	}

	indexes := make([]int, 0, len(obj))
	values := make(map[int]int, len(obj))
	for key, raw := range obj {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, payloadError(fmt.Sprintf("non-numeric key %q", key), nil)
		}
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, payloadError(fmt.Sprintf("non-numeric value at %q", key), err)
		}
		if v < 0 || v > 255 {
			return nil, payloadError(fmt.Sprintf("byte %d out of range: %d", idx, v), nil)
		}
		indexes = append(indexes, idx)
		values[idx] = v
	}
	sort.Ints(indexes)

	data := make([]byte, len(indexes))
	for i, idx := range indexes {
		if idx != i {
			return nil, payloadError(fmt.Sprintf("index map has a gap at %d", i), nil)
		}
		data[i] = byte(values[idx])
	}
	return data, nil
}
