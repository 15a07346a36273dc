/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package compress

import (
	"compress/zlib"
	"io"
)

var zlibLevels = map[Level]int{
	DefaultCompression: zlib.DefaultCompression,
	BestCompression:    zlib.BestCompression,
	SpeedCompression:   zlib.BestSpeed,
}

// ZlibCompressor deflates writes and inflates reads over an underlying stream.
// Both directions are set up lazily, the inflater on first read since zlib.NewReader consumes the header.
type ZlibCompressor struct {
	level int
	src   io.Reader
	dst   io.Writer
	zw    *zlib.Writer
	zr    io.ReadCloser
}

// NewZlibCompressor returns a zlib compressor reading from reader and writing to writer.
func NewZlibCompressor(reader io.Reader, writer io.Writer, level Level) *ZlibCompressor {
	lvl, ok := zlibLevels[level]
	if !ok {
		lvl = zlib.DefaultCompression
	}
	return &ZlibCompressor{level: lvl, src: reader, dst: writer}
}

// Write compresses p and sync flushes it so that the peer can inflate every stanza on arrival.
func (z *ZlibCompressor) Write(p []byte) (int, error) {
	if z.zw == nil {
		zw, err := zlib.NewWriterLevel(z.dst, z.level)
		if err != nil {
			return 0, err
		}
		z.zw = zw
	}
	n, err := z.zw.Write(p)
	if err == nil {
		err = z.zw.Flush()
	}
	return n, err
}

func (z *ZlibCompressor) Read(p []byte) (int, error) {
	if z.zr == nil {
		zr, err := zlib.NewReader(z.src)
		if err != nil {
			return 0, err
		}
		z.zr = zr
	}
	return z.zr.Read(p)
}
