// Package image defines the image processing capability consumed by
// the finalization pipeline.
//
// Processing is pluggable: the pipeline only requires that a processor
// turns the uploaded bytes into one or more named variants, one of
// which must be "original".
package image

import (
	"context"
	"errors"
)

// VariantOriginal is the variant name every processor must emit.
// Finalization records the original variant's storage location on the
// upload record.
const VariantOriginal = "original"

// ErrNoData is returned when a processor receives an empty input.
var ErrNoData = errors.New("image: no input data")

// Input is the uploaded object handed to a processor.
type Input struct {
	Data        []byte
	ContentType string
}

// Variant is one processed rendition of the input.
type Variant struct {
	Name        string
	Data        []byte
	ContentType string
}

// Output is the full set of renditions produced by a processor.
type Output struct {
	Variants []Variant
}

// Original returns the "original" variant, or nil if the processor
// failed to emit one.
func (o *Output) Original() *Variant {
	for i := range o.Variants {
		if o.Variants[i].Name == VariantOriginal {
			return &o.Variants[i]
		}
	}
	return nil
}

// Processor transforms uploaded bytes into named variants.
type Processor interface {
	Process(ctx context.Context, in Input) (*Output, error)
}

// Passthrough is a Processor that emits the input unchanged as the
// single "original" variant. It is the default wiring when no external
// transform service is configured, and backs tests.
type Passthrough struct{}

// NewPassthrough creates a Passthrough processor.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Process returns the input as the "original" variant.
func (p *Passthrough) Process(ctx context.Context, in Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, ErrNoData
	}

	return &Output{
		Variants: []Variant{
			{
				Name:        VariantOriginal,
				Data:        in.Data,
				ContentType: in.ContentType,
			},
		},
	}, nil
}

// Ensure Passthrough implements Processor.
var _ Processor = (*Passthrough)(nil)
