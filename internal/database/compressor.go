package database

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// reportCodec compresses stored report documents. Encoder and decoder are
// safe for concurrent EncodeAll/DecodeAll calls.
type reportCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newReportCodec() (*reportCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &reportCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *reportCodec) compress(val []byte) []byte {
	return c.encoder.EncodeAll(val, make([]byte, 0, len(val)/4))
}

func (c *reportCodec) decompress(val []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(val, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress report: %w", err)
	}
	return out, nil
}

func (c *reportCodec) close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
