package wsport

import "github.com/valyala/bytebufferpool"

func bufferPut(buf *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(buf)
}
