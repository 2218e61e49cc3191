package encoding

import (
	"bytes"
	"io"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// maxPooledBuffer keeps one huge report from pinning memory in the pool.
const maxPooledBuffer = 4 << 20

// EncoderPool reuses output buffers for JSON encoding of large reports
type EncoderPool struct {
	pool sync.Pool
}

// NewEncoderPool creates a new encoder pool
func NewEncoderPool() *EncoderPool {
	ep := &EncoderPool{}
	ep.pool.New = func() interface{} { return new(bytes.Buffer) }
	return ep
}

func (ep *EncoderPool) get() *bytes.Buffer {
	buf := ep.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (ep *EncoderPool) put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	ep.pool.Put(buf)
}

func (ep *EncoderPool) encode(v interface{}, indent bool) (*bytes.Buffer, error) {
	buf := ep.get()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		ep.put(buf)
		return nil, err
	}
	return buf, nil
}

// Marshal encodes v without the trailing newline. The result is a copy and
// safe to keep.
func (ep *EncoderPool) Marshal(v interface{}) ([]byte, error) {
	buf, err := ep.encode(v, false)
	if err != nil {
		return nil, err
	}
	defer ep.put(buf)

	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return append([]byte(nil), data...), nil
}

// WriteTo encodes v to w, indented when pretty is set.
func (ep *EncoderPool) WriteTo(w io.Writer, v interface{}, pretty bool) error {
	buf, err := ep.encode(v, pretty)
	if err != nil {
		return err
	}
	defer ep.put(buf)

	_, err = w.Write(buf.Bytes())
	return err
}

// JSON renders v as the response body of c. An encoding failure is left on
// c.Errors for the error handler. ?pretty=true indents the output.
func (ep *EncoderPool) JSON(c *gin.Context, code int, v interface{}) {
	buf, err := ep.encode(v, c.Query("pretty") == "true")
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer ep.put(buf)

	c.Data(code, "application/json; charset=utf-8", buf.Bytes())
}

var defaultPool = NewEncoderPool()

// MarshalJSON marshals data using the shared pool
func MarshalJSON(v interface{}) ([]byte, error) {
	return defaultPool.Marshal(v)
}

// WriteJSON writes v to w using the shared pool
func WriteJSON(w io.Writer, v interface{}, pretty bool) error {
	return defaultPool.WriteTo(w, v, pretty)
}

// JSON renders v with the shared pool
func JSON(c *gin.Context, code int, v interface{}) {
	defaultPool.JSON(c, code, v)
}
