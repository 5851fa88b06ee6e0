package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthrough_EmitsOriginal(t *testing.T) {
	t.Parallel()

	p := NewPassthrough()
	out, err := p.Process(context.Background(), Input{
		Data:        []byte("jpegdata"),
		ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	require.Len(t, out.Variants, 1)

	original := out.Original()
	require.NotNil(t, original)
	assert.Equal(t, VariantOriginal, original.Name)
	assert.Equal(t, []byte("jpegdata"), original.Data)
	assert.Equal(t, "image/jpeg", original.ContentType)
}

func TestPassthrough_EmptyInput(t *testing.T) {
	t.Parallel()

	p := NewPassthrough()
	_, err := p.Process(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPassthrough_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPassthrough()
	_, err := p.Process(ctx, Input{Data: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutput_OriginalMissing(t *testing.T) {
	t.Parallel()

	out := &Output{Variants: []Variant{{Name: "thumbnail"}}}
	assert.Nil(t, out.Original())
}
