package rpc

import (
	"github.com/valyala/bytebufferpool"

	"github.com/memorall/core/internal/jsonx"
)

// EncodeRequest marshals req into a pooled buffer. Callers must return the
// buffer via bytebufferpool.Put once the bytes have been written to the
// transport.
func EncodeRequest(req *Request) (*bytebufferpool.ByteBuffer, error) {
	buf := bytebufferpool.Get()
	data, err := jsonx.Marshal(req)
	if err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}
	if _, err := buf.Write(data); err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}
	return buf, nil
}

// DecodeRequest unmarshals a Request from raw bytes off the wire.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}
	if err := jsonx.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeResponse marshals resp into a pooled buffer, mirroring EncodeRequest.
func EncodeResponse(resp *Response) (*bytebufferpool.ByteBuffer, error) {
	buf := bytebufferpool.Get()
	data, err := jsonx.Marshal(resp)
	if err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}
	if _, err := buf.Write(data); err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}
	return buf, nil
}

// DecodeResponse unmarshals a Response from raw bytes off the wire.
func DecodeResponse(data []byte) (*Response, error) {
	resp := &Response{}
	if err := jsonx.Unmarshal(data, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
