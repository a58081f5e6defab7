// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package imaging conditions downloaded artwork for chat transports:
// JPEG re-encode, dimension clamps, and a quality ladder to satisfy
// upload size caps.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Transport photo caps: the long-poll bot rejects photos whose width
// plus height exceeds this, independent of the configured max edge.
const maxDimensionSum = 10000

// minQuality is the floor of the quality ladder.
const minQuality = 50

// qualityStep is how far each ladder rung drops.
const qualityStep = 7

// Options bound the conditioned output.
type Options struct {
	// MaxEdgePx clamps the longer image edge. 0 disables scaling.
	MaxEdgePx int
	// Quality is the starting JPEG quality, walked down to 50 while the
	// encoded size exceeds MaxBytes.
	Quality int
	// MaxBytes caps the encoded size. 0 means unbounded.
	MaxBytes int
}

// Error wraps a conditioning failure so callers can fall back to a
// proxy URL instead of uploading.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imaging: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Conform decodes data (JPEG, PNG, GIF, or WebP), scales it inside the
// configured bounds, and re-encodes as JPEG, stepping quality down until
// the result fits MaxBytes or the ladder bottoms out.
func Conform(data []byte, opts Options) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Stage: "decode", Err: err}
	}

	src = scaleToFit(src, opts.MaxEdgePx)

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 87
	}

	var out []byte
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
			return nil, &Error{Stage: "encode", Err: err}
		}
		out = buf.Bytes()
		if opts.MaxBytes <= 0 || len(out) <= opts.MaxBytes || quality <= minQuality {
			break
		}
		quality -= qualityStep
		if quality < minQuality {
			quality = minQuality
		}
	}

	if opts.MaxBytes > 0 && len(out) > opts.MaxBytes {
		return nil, &Error{Stage: "size", Err: fmt.Errorf("%d bytes exceeds cap %d at quality %d", len(out), opts.MaxBytes, minQuality)}
	}
	return out, nil
}

// scaleToFit shrinks src so its longer edge is at most maxEdge and
// width+height stays under the transport dimension cap. Images already
// inside the bounds pass through untouched.
func scaleToFit(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return src
	}

	factor := 1.0
	longer := w
	if h > longer {
		longer = h
	}
	if maxEdge > 0 && longer > maxEdge {
		factor = float64(maxEdge) / float64(longer)
	}
	if sum := float64(w+h) * factor; sum > maxDimensionSum {
		factor *= maxDimensionSum / sum
	}
	if factor >= 1.0 {
		return src
	}

	nw, nh := int(float64(w)*factor), int(float64(h)*factor)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
