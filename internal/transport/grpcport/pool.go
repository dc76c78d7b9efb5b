package grpcport

import "github.com/valyala/bytebufferpool"

func bufferPutRaw(buf *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(buf)
}
